package push

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"go.uber.org/zap"
)

// Pusher sends batch job metrics once per invocation. Batch runs exit before
// a scrape could happen, so nothing is exposed on /metrics.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry, grouping map[string]string) error
}

// NewPusher returns nil when no Pushgateway is configured.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimSpace(cfg.PushgatewayURL)
	if endpoint == "" {
		logger.Debug("pushgateway disabled")
		return nil
	}
	return NewPushgatewayPusher(endpoint, cfg.AppName, map[string]string{
		"environment": strings.TrimSpace(cfg.Environment),
	})
}

// PushgatewayPusher sends metrics to a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

// NewPushgatewayPusher returns a pusher for Prometheus Pushgateway.
func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: endpoint,
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

// Push replaces the job's metric group with the registry contents.
func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry, grouping map[string]string) error {
	if p == nil || registry == nil {
		return nil
	}
	if strings.TrimSpace(p.endpoint) == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	for _, labels := range []map[string]string{p.grouping, grouping} {
		for key, value := range labels {
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if key == "" || value == "" {
				continue
			}
			pusher = pusher.Grouping(key, value)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	return pusher.PushContext(ctx)
}
