package prometheus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"
)

// Client wrapper para Prometheus API
type Client struct {
	api      v1.API
	endpoint string
	timeout  time.Duration

	mu        sync.RWMutex
	connected bool
}

// NewClient cria um novo client Prometheus (sem teste de conexão).
// O client inicia desconectado; a primeira coleta testa a conexão.
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("prometheus endpoint is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	apiClient, err := api.NewClient(api.Config{
		Address: endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Msg("Prometheus client created (lazy connection)")

	return &Client{
		api:      v1.NewAPI(apiClient),
		endpoint: endpoint,
		timeout:  timeout,
	}, nil
}

// TestConnection testa a conexão com Prometheus
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, _, err := c.api.Query(ctx, "up", time.Now())

	c.mu.Lock()
	c.connected = err == nil
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	log.Debug().
		Str("endpoint", c.endpoint).
		Msg("Prometheus connection test successful")

	return nil
}

// Query executa uma query PromQL instantânea
func (c *Client) Query(ctx context.Context, query string) (model.Value, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("prometheus client not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if len(warnings) > 0 {
		log.Warn().
			Str("endpoint", c.endpoint).
			Strs("warnings", warnings).
			Msg("Prometheus query returned warnings")
	}

	return result, nil
}

// QueryValue executa a query e extrai um único valor
func (c *Client) QueryValue(ctx context.Context, query string) (float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return extractSingleValue(result)
}

// IsConnected retorna se o client está conectado
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// markDisconnected força novo teste de conexão na próxima coleta
func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// GetEndpoint retorna o endpoint
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

// extractSingleValue extrai um único valor float64 do resultado.
// Vetor vazio é erro: a série não existe para a instância.
func extractSingleValue(value model.Value) (float64, error) {
	switch v := value.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, fmt.Errorf("empty result")
		}
		return float64(v[0].Value), nil
	case *model.Scalar:
		return float64(v.Value), nil
	default:
		return 0, fmt.Errorf("unexpected value type: %T", value)
	}
}
