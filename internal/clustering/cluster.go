// Package clustering groups open signals into situational clusters by
// spatial proximity. Everything here is a pure function of its input;
// signals are never modified.
package clustering

import (
	"sort"

	"github.com/resqnet/resqnet/internal/database"
)

// Cluster is an ephemeral grouping of nearby open signals
type Cluster struct {
	ID              string                `json:"id"`
	Center          Point                 `json:"center"`
	RadiusKm        float64               `json:"radius_km"`
	SpanKm          float64               `json:"span_km"`
	SignalIDs       []string              `json:"signal_ids"`
	Priority        database.Priority     `json:"priority"`
	Status          database.SignalStatus `json:"status"`
	EscalationLevel int                   `json:"escalation_level"`
}

type member struct {
	rank   int
	id     string
	point  Point
	signal *database.Signal
}

type group struct {
	members []member
	center  Point
}

func (g *group) add(m member) {
	g.members = append(g.members, m)
	g.recenter()
}

func (g *group) absorb(o *group) {
	g.members = append(g.members, o.members...)
	sort.Slice(g.members, func(i, j int) bool { return g.members[i].rank < g.members[j].rank })
	g.recenter()
}

func (g *group) recenter() {
	points := make([]Point, len(g.members))
	for i, m := range g.members {
		points[i] = m.point
	}
	g.center = centroid(points)
}

// linked reports whether any member of g lies within radius of any member of o
func (g *group) linked(o *group, radiusKm float64) bool {
	for _, a := range g.members {
		for _, b := range o.members {
			if DistanceKm(a.point, b.point) <= radiusKm {
				return true
			}
		}
	}
	return false
}

// SeedOrder sorts signals so that the most urgent, oldest signals come first.
// Ties fall back to the id so the order never depends on input order.
func SeedOrder(signals []database.Signal) []database.Signal {
	out := make([]database.Signal, len(signals))
	copy(out, signals)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Compute groups open signals into clusters of the given radius.
//
// Signals are visited in SeedOrder. Each joins the first existing cluster
// whose centroid lies within radiusKm, otherwise it seeds a new cluster.
// Afterwards clusters are merged while any two have centroids within
// radiusKm of each other or contain a pair of members within radiusKm,
// so two signals that are within the radius always share a cluster.
// Terminal signals in the input are ignored.
func Compute(signals []database.Signal, radiusKm float64) []Cluster {
	ordered := SeedOrder(signals)

	var groups []*group
	for i := range ordered {
		s := &ordered[i]
		if !s.IsOpen() {
			continue
		}
		m := member{
			rank:   i,
			id:     s.ID,
			point:  Point{Lat: s.Location.Lat, Lng: s.Location.Lng},
			signal: s,
		}

		placed := false
		for _, g := range groups {
			if DistanceKm(g.center, m.point) <= radiusKm {
				g.add(m)
				placed = true
				break
			}
		}
		if !placed {
			g := &group{}
			g.add(m)
			groups = append(groups, g)
		}
	}

	groups = mergeGroups(groups, radiusKm)

	clusters := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, g.toCluster(radiusKm))
	}
	return clusters
}

func mergeGroups(groups []*group, radiusKm float64) []*group {
	for {
		merged := false
		for i := 0; i < len(groups) && !merged; i++ {
			for j := i + 1; j < len(groups); j++ {
				if DistanceKm(groups[i].center, groups[j].center) <= radiusKm || groups[i].linked(groups[j], radiusKm) {
					groups[i].absorb(groups[j])
					groups = append(groups[:j], groups[j+1:]...)
					merged = true
					break
				}
			}
		}
		if !merged {
			return groups
		}
	}
}

func (g *group) toCluster(radiusKm float64) Cluster {
	c := Cluster{
		ID:        "cluster-" + g.members[0].id,
		Center:    g.center,
		RadiusKm:  radiusKm,
		SignalIDs: make([]string, 0, len(g.members)),
	}
	for _, m := range g.members {
		c.SignalIDs = append(c.SignalIDs, m.id)
		if d := DistanceKm(g.center, m.point); d > c.SpanKm {
			c.SpanKm = d
		}
		if m.signal.Priority.Rank() > c.Priority.Rank() {
			c.Priority = m.signal.Priority
		}
		if c.Status == "" || m.signal.Status.Severity() > c.Status.Severity() {
			c.Status = m.signal.Status
		}
		if m.signal.EscalationLevel > c.EscalationLevel {
			c.EscalationLevel = m.signal.EscalationLevel
		}
	}
	return c
}
