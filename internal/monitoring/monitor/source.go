package monitor

import (
	"context"
	"errors"

	"anomaly-watchdog/internal/monitoring/models"
)

// ErrNoSample coleta falhou neste tick (o engine não avança o histórico)
var ErrNoSample = errors.New("no sample this tick")

// SampleSource produz um MetricSample completo por tick
type SampleSource interface {
	Name() string
	Entity() string
	Collect(ctx context.Context) (models.MetricSample, error)
}
