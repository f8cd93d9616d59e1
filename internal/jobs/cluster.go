package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/services"
)

// ClusterJob refreshes the cluster snapshot for the default radius
type ClusterJob struct {
	clusters *services.ClusterService
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewClusterJob creates a new cluster job
func NewClusterJob(clusters *services.ClusterService, logger *zap.Logger, m *metrics.Metrics) *ClusterJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClusterJob{clusters: clusters, logger: logger, metrics: m}
}

func (j *ClusterJob) Name() string { return "clustering" }

func (j *ClusterJob) RunOnce(ctx context.Context) error {
	started := time.Now()
	_, err := j.clusters.Refresh(ctx)
	failed := 0
	if err != nil {
		failed = 1
	}
	j.metrics.Pass(j.Name(), time.Since(started), failed)
	return err
}
