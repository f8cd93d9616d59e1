package clustering

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqnet/resqnet/internal/database"
)

var base = time.Date(2026, 5, 17, 6, 0, 0, 0, time.UTC)

func sig(id string, lat, lng float64, p database.Priority, age time.Duration) database.Signal {
	return database.Signal{
		ID:        id,
		Location:  database.Location{Lat: lat, Lng: lng},
		Status:    database.SignalStatusPending,
		Priority:  p,
		CreatedAt: base.Add(-age),
	}
}

func memberSets(clusters []Cluster) map[string]int {
	out := make(map[string]int)
	for i, c := range clusters {
		for _, id := range c.SignalIDs {
			out[id] = i
		}
	}
	return out
}

func TestDistanceKm(t *testing.T) {
	colombo := Point{Lat: 6.9271, Lng: 79.8612}
	kandy := Point{Lat: 7.2906, Lng: 80.6337}

	assert.InDelta(t, 94.5, DistanceKm(colombo, kandy), 1.5)
	assert.Equal(t, 0.0, DistanceKm(colombo, colombo))
	assert.InDelta(t, DistanceKm(colombo, kandy), DistanceKm(kandy, colombo), 1e-9)
}

func TestCompute_Empty(t *testing.T) {
	assert.Empty(t, Compute(nil, 5))
}

func TestCompute_SingleSignalIsSingleton(t *testing.T) {
	clusters := Compute([]database.Signal{sig("a", 6.9, 79.86, database.PriorityLow, 0)}, 5)

	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"a"}, clusters[0].SignalIDs)
	assert.Equal(t, Point{Lat: 6.9, Lng: 79.86}, clusters[0].Center)
	assert.Equal(t, 0.0, clusters[0].SpanKm)
	assert.Equal(t, database.PriorityLow, clusters[0].Priority)
}

func TestCompute_ColomboScenario(t *testing.T) {
	signals := []database.Signal{
		sig("s1", 6.90, 79.86, database.PriorityHigh, 3*time.Minute),
		sig("s2", 6.91, 79.87, database.PriorityMedium, 2*time.Minute),
		sig("s3", 6.95, 79.90, database.PriorityCritical, time.Minute),
	}

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range perms {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			input := []database.Signal{signals[perm[0]], signals[perm[1]], signals[perm[2]]}
			clusters := Compute(input, 5)

			require.Len(t, clusters, 2)
			sets := memberSets(clusters)
			assert.Equal(t, sets["s1"], sets["s2"])
			assert.NotEqual(t, sets["s1"], sets["s3"])

			// The critical signal seeds first
			assert.Equal(t, "cluster-s3", clusters[0].ID)
			assert.Equal(t, database.PriorityCritical, clusters[0].Priority)
			assert.Equal(t, database.PriorityHigh, clusters[1].Priority)
		})
	}
}

func TestCompute_DerivedStatusIsMostSevere(t *testing.T) {
	a := sig("a", 6.90, 79.86, database.PriorityLow, 0)
	a.Status = database.SignalStatusResponding
	b := sig("b", 6.901, 79.861, database.PriorityLow, time.Second)
	b.Status = database.SignalStatusPending
	b.EscalationLevel = 2

	clusters := Compute([]database.Signal{a, b}, 5)

	require.Len(t, clusters, 1)
	assert.Equal(t, database.SignalStatusPending, clusters[0].Status)
	assert.Equal(t, 2, clusters[0].EscalationLevel)
}

func TestCompute_IgnoresTerminalSignals(t *testing.T) {
	a := sig("a", 6.90, 79.86, database.PriorityLow, 0)
	b := sig("b", 6.90, 79.86, database.PriorityLow, 0)
	b.Status = database.SignalStatusResolved

	clusters := Compute([]database.Signal{a, b}, 5)

	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"a"}, clusters[0].SignalIDs)
}

func TestCompute_MergesSeedOrderFragments(t *testing.T) {
	// The chain a-b-c is 4 km apart per hop; with radius 5 everything
	// ends up together even though c is more than 5 km from a.
	a := sig("a", 0, 0, database.PriorityCritical, 0)
	b := sig("b", 0, 0.036, database.PriorityLow, 0)
	c := sig("c", 0, 0.072, database.PriorityHigh, 0)

	clusters := Compute([]database.Signal{a, b, c}, 5)

	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, clusters[0].SignalIDs)
}

func TestCompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	priorities := database.AllPriorities()
	const radius = 3.0

	for round := 0; round < 25; round++ {
		var signals []database.Signal
		n := 2 + rng.Intn(30)
		for i := 0; i < n; i++ {
			signals = append(signals, sig(
				fmt.Sprintf("s%02d", i),
				6.8+rng.Float64()*0.3,
				79.8+rng.Float64()*0.3,
				priorities[rng.Intn(len(priorities))],
				time.Duration(rng.Intn(600))*time.Second,
			))
		}

		clusters := Compute(signals, radius)

		// no shared members and no empty clusters
		seen := make(map[string]bool)
		for _, c := range clusters {
			require.NotEmpty(t, c.SignalIDs)
			for _, id := range c.SignalIDs {
				require.False(t, seen[id], "signal %s in two clusters", id)
				seen[id] = true
			}
		}
		require.Len(t, seen, n)

		// nearby pairs always share a cluster
		sets := memberSets(clusters)
		for i := range signals {
			for j := i + 1; j < len(signals); j++ {
				pi := Point{Lat: signals[i].Location.Lat, Lng: signals[i].Location.Lng}
				pj := Point{Lat: signals[j].Location.Lat, Lng: signals[j].Location.Lng}
				if DistanceKm(pi, pj) <= radius {
					require.Equal(t, sets[signals[i].ID], sets[signals[j].ID])
				}
			}
		}

		// input order does not matter
		shuffled := make([]database.Signal, len(signals))
		copy(shuffled, signals)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, clusters, Compute(shuffled, radius))
	}
}

func TestCompute_DoesNotMutateInput(t *testing.T) {
	signals := []database.Signal{
		sig("b", 6.90, 79.86, database.PriorityLow, 0),
		sig("a", 6.90, 79.86, database.PriorityCritical, 0),
	}
	before := make([]database.Signal, len(signals))
	copy(before, signals)

	Compute(signals, 5)

	assert.Equal(t, before, signals)
}
