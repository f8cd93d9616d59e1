package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/clustering"
	"github.com/resqnet/resqnet/internal/metrics"
)

// ClusterSnapshot is the result of the last periodic clustering pass
type ClusterSnapshot struct {
	RadiusKm   float64              `json:"radius_km"`
	Clusters   []clustering.Cluster `json:"clusters"`
	ComputedAt time.Time            `json:"computed_at"`
}

// ClusterService computes clusters over the open signals. It only reads
// from the store.
type ClusterService struct {
	store         *SignalStore
	defaultRadius float64
	logger        *zap.Logger
	metrics       *metrics.Metrics

	mu   sync.RWMutex
	last *ClusterSnapshot
}

// NewClusterService creates a new cluster service
func NewClusterService(store *SignalStore, defaultRadiusKm float64, logger *zap.Logger, m *metrics.Metrics) *ClusterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClusterService{store: store, defaultRadius: defaultRadiusKm, logger: logger, metrics: m}
}

// DefaultRadius returns the radius used by Refresh
func (cs *ClusterService) DefaultRadius() float64 {
	return cs.defaultRadius
}

// GetClusters computes clusters of the current open signals. A non-positive
// radius selects the default.
func (cs *ClusterService) GetClusters(ctx context.Context, radiusKm float64) ([]clustering.Cluster, error) {
	if radiusKm <= 0 {
		radiusKm = cs.defaultRadius
	}
	open, err := cs.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	return clustering.Compute(open, radiusKm), nil
}

// Refresh recomputes clusters for the default radius and keeps the result
// as the current snapshot
func (cs *ClusterService) Refresh(ctx context.Context) (*ClusterSnapshot, error) {
	open, err := cs.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	snap := &ClusterSnapshot{
		RadiusKm:   cs.defaultRadius,
		Clusters:   clustering.Compute(open, cs.defaultRadius),
		ComputedAt: cs.store.Now(),
	}

	byStatus := make(map[string]int)
	for _, s := range open {
		byStatus[string(s.Status)]++
	}
	cs.metrics.Clusters(len(snap.Clusters), byStatus)

	cs.mu.Lock()
	cs.last = snap
	cs.mu.Unlock()

	cs.logger.Debug("clusters refreshed",
		zap.Int("open_signals", len(open)),
		zap.Int("clusters", len(snap.Clusters)))
	return snap, nil
}

// Snapshot returns the last refreshed result, or nil before the first pass
func (cs *ClusterService) Snapshot() *ClusterSnapshot {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.last
}
