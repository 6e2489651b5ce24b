package prometheus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Health resultado do health check do Prometheus
type Health struct {
	Endpoint       string    `json:"endpoint"`
	Healthy        bool      `json:"healthy"`
	Version        string    `json:"version,omitempty"`
	ActiveTargets  int       `json:"active_targets"`
	DroppedTargets int       `json:"dropped_targets"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConnectWithRetry testa a conexão com backoff exponencial até maxElapsed
func ConnectWithRetry(ctx context.Context, client *Client, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		if err := client.TestConnection(ctx); err != nil {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Str("endpoint", client.GetEndpoint()).
				Msg("Prometheus not reachable yet")
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("failed to connect to prometheus after %d attempts: %w", attempt, err)
	}

	log.Info().
		Str("endpoint", client.GetEndpoint()).
		Int("attempts", attempt).
		Msg("✅ Prometheus connection established")

	return nil
}

// GetPrometheusVersion obtém a versão do Prometheus
func GetPrometheusVersion(ctx context.Context, client *Client) (string, error) {
	buildInfo, err := client.api.Buildinfo(ctx)
	if err != nil {
		return "", err
	}

	if buildInfo.Version == "" {
		return "unknown", nil
	}
	return buildInfo.Version, nil
}

// CheckHealth verifica saúde do Prometheus (conexão, versão e targets)
func CheckHealth(ctx context.Context, client *Client) *Health {
	health := &Health{
		Endpoint:  client.GetEndpoint(),
		Timestamp: time.Now(),
	}

	if err := client.TestConnection(ctx); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Healthy = true

	if version, err := GetPrometheusVersion(ctx, client); err == nil {
		health.Version = version
	}

	if targets, err := client.api.Targets(ctx); err == nil {
		health.ActiveTargets = len(targets.Active)
		health.DroppedTargets = len(targets.Dropped)
	}

	log.Info().
		Str("endpoint", health.Endpoint).
		Bool("healthy", health.Healthy).
		Str("version", health.Version).
		Int("targets", health.ActiveTargets).
		Msg("Prometheus health check complete")

	return health
}
