package prometheus

import (
	"fmt"
	"strings"
)

// QueryTemplate representa um template de query PromQL
type QueryTemplate struct {
	Name        string
	Description string
	Query       string
	Variables   []string
}

// Queries de node_exporter usadas pela fonte de amostras
var (
	NodeCPUUsageQuery = QueryTemplate{
		Name:        "node_cpu_usage",
		Description: "CPU usage percentage (all cores, non-idle)",
		Query: `
100 * (1 - avg(rate(node_cpu_seconds_total{instance="{{.instance}}",mode="idle"}[{{.rate_window}}])))
`,
		Variables: []string{"instance", "rate_window"},
	}

	NodeMemoryUsageQuery = QueryTemplate{
		Name:        "node_memory_usage",
		Description: "Memory usage percentage (MemAvailable based)",
		Query: `
100 * (1 - node_memory_MemAvailable_bytes{instance="{{.instance}}"} / node_memory_MemTotal_bytes{instance="{{.instance}}"})
`,
		Variables: []string{"instance"},
	}

	NodeConnectionsQuery = QueryTemplate{
		Name:        "node_connections",
		Description: "Established TCP connections",
		Query: `
node_netstat_Tcp_CurrEstab{instance="{{.instance}}"}
`,
		Variables: []string{"instance"},
	}

	NodeNetworkRxQuery = QueryTemplate{
		Name:        "node_network_rx",
		Description: "Received bytes per second (physical devices)",
		Query: `
sum(rate(node_network_receive_bytes_total{instance="{{.instance}}",device!~"lo|veth.*|docker.*|br-.*"}[{{.rate_window}}]))
`,
		Variables: []string{"instance", "rate_window"},
	}

	NodeNetworkTxQuery = QueryTemplate{
		Name:        "node_network_tx",
		Description: "Transmitted bytes per second (physical devices)",
		Query: `
sum(rate(node_network_transmit_bytes_total{instance="{{.instance}}",device!~"lo|veth.*|docker.*|br-.*"}[{{.rate_window}}]))
`,
		Variables: []string{"instance", "rate_window"},
	}
)

// QueryBuilder constrói queries substituindo variáveis
type QueryBuilder struct {
	template QueryTemplate
	vars     map[string]string
}

// NewQueryBuilder cria um novo builder
func NewQueryBuilder(template QueryTemplate) *QueryBuilder {
	return &QueryBuilder{
		template: template,
		vars:     make(map[string]string),
	}
}

// WithInstance define o alvo do node_exporter (host:porta)
func (qb *QueryBuilder) WithInstance(instance string) *QueryBuilder {
	qb.vars["instance"] = instance
	return qb
}

// WithRateWindow define a janela do rate() (ex: "1m")
func (qb *QueryBuilder) WithRateWindow(window string) *QueryBuilder {
	qb.vars["rate_window"] = window
	return qb
}

// Build constrói a query final
func (qb *QueryBuilder) Build() (string, error) {
	query := strings.TrimSpace(qb.template.Query)

	for key, value := range qb.vars {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		query = strings.ReplaceAll(query, placeholder, value)
	}

	if strings.Contains(query, "{{.") {
		return "", fmt.Errorf("query %s contains unsubstituted variables", qb.template.Name)
	}

	query = strings.Join(strings.Fields(query), " ")

	return query, nil
}

// NodeQueries queries já montadas para uma instância
type NodeQueries struct {
	CPU         string
	Memory      string
	Connections string
	NetworkRx   string
	NetworkTx   string
}

// BuildNodeQueries monta todas as queries de uma instância
func BuildNodeQueries(instance, rateWindow string) (NodeQueries, error) {
	build := func(t QueryTemplate) (string, error) {
		return NewQueryBuilder(t).WithInstance(instance).WithRateWindow(rateWindow).Build()
	}

	var q NodeQueries
	var err error
	if q.CPU, err = build(NodeCPUUsageQuery); err != nil {
		return q, err
	}
	if q.Memory, err = build(NodeMemoryUsageQuery); err != nil {
		return q, err
	}
	if q.Connections, err = build(NodeConnectionsQuery); err != nil {
		return q, err
	}
	if q.NetworkRx, err = build(NodeNetworkRxQuery); err != nil {
		return q, err
	}
	if q.NetworkTx, err = build(NodeNetworkTxQuery); err != nil {
		return q, err
	}
	return q, nil
}

// GetAllTemplates retorna todos os templates disponíveis
func GetAllTemplates() []QueryTemplate {
	return []QueryTemplate{
		NodeCPUUsageQuery,
		NodeMemoryUsageQuery,
		NodeConnectionsQuery,
		NodeNetworkRxQuery,
		NodeNetworkTxQuery,
	}
}
