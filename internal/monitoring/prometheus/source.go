package prometheus

import (
	"context"
	"fmt"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
)

// NodeSourceConfig configuração da fonte node_exporter
type NodeSourceConfig struct {
	Endpoint   string        // URL do Prometheus
	Instance   string        // label instance do node_exporter
	RateWindow string        // janela do rate() (default "1m")
	Timeout    time.Duration // timeout por query
}

// NodeSource amostras de um host monitorado pelo node_exporter
type NodeSource struct {
	client  *Client
	queries NodeQueries
	config  NodeSourceConfig
	clock   clock.Clock
}

// NewNodeSource cria a fonte e monta as queries da instância
func NewNodeSource(config NodeSourceConfig, clk clock.Clock) (*NodeSource, error) {
	if config.Instance == "" {
		return nil, fmt.Errorf("prometheus instance is required")
	}
	if config.RateWindow == "" {
		config.RateWindow = "1m"
	}
	if clk == nil {
		clk = clock.NewClock()
	}

	client, err := NewClient(config.Endpoint, config.Timeout)
	if err != nil {
		return nil, err
	}

	queries, err := BuildNodeQueries(config.Instance, config.RateWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to build node queries: %w", err)
	}

	log.Info().
		Str("endpoint", config.Endpoint).
		Str("instance", config.Instance).
		Msg("Prometheus sample source initialized")

	return &NodeSource{
		client:  client,
		queries: queries,
		config:  config,
		clock:   clk,
	}, nil
}

// Name nome da fonte
func (s *NodeSource) Name() string {
	return "prometheus"
}

// Entity identificador do host monitorado
func (s *NodeSource) Entity() string {
	return s.config.Instance
}

// Client client subjacente (health check)
func (s *NodeSource) Client() *Client {
	return s.client
}

// Collect consulta CPU, memória e conexões. Falha em qualquer uma delas é
// ErrNoSample; rede é opcional e fica em 0 quando ausente.
func (s *NodeSource) Collect(ctx context.Context) (models.MetricSample, error) {
	// Lazy connection: tenta conectar a cada tick até conseguir
	if !s.client.IsConnected() {
		if err := s.client.TestConnection(ctx); err != nil {
			return models.MetricSample{}, fmt.Errorf("%w: %v", monitor.ErrNoSample, err)
		}
		log.Info().
			Str("endpoint", s.client.GetEndpoint()).
			Msg("✅ Prometheus lazy connection established")
	}

	sample := models.MetricSample{
		Timestamp: s.clock.Now(),
		Entity:    s.config.Instance,
	}

	required := []struct {
		name  string
		query string
		dest  *float64
	}{
		{"cpu", s.queries.CPU, &sample.CPUPercent},
		{"memory", s.queries.Memory, &sample.MemoryPercent},
		{"connections", s.queries.Connections, &sample.ConnectionCount},
	}

	for _, r := range required {
		v, err := s.client.QueryValue(ctx, r.query)
		if err != nil {
			s.client.markDisconnected()
			return models.MetricSample{}, fmt.Errorf("%w: failed to query %s: %v", monitor.ErrNoSample, r.name, err)
		}
		*r.dest = v
	}

	if v, err := s.client.QueryValue(ctx, s.queries.NetworkRx); err == nil {
		sample.NetInBytesPerSec = v
	}
	if v, err := s.client.QueryValue(ctx, s.queries.NetworkTx); err == nil {
		sample.NetOutBytesPerSec = v
	}

	log.Debug().
		Str("instance", s.config.Instance).
		Float64("cpu", sample.CPUPercent).
		Float64("memory", sample.MemoryPercent).
		Float64("connections", sample.ConnectionCount).
		Msg("Prometheus sample collected")

	return sample, nil
}
