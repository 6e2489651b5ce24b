package models

import (
	"fmt"
	"time"
)

// Metric identifica uma série monitorada pelo detector de padrões
type Metric string

const (
	MetricCPU         Metric = "cpu"
	MetricMemory      Metric = "memory"
	MetricConnections Metric = "connections"
)

// DetectorMetrics é a ordem fixa usada no alinhamento posicional das janelas
var DetectorMetrics = []Metric{MetricCPU, MetricMemory, MetricConnections}

// Label retorna o nome legível da métrica (usado nas mensagens)
func (m Metric) Label() string {
	switch m {
	case MetricCPU:
		return "CPU"
	case MetricMemory:
		return "RAM"
	case MetricConnections:
		return "Conexões"
	default:
		return string(m)
	}
}

// MetricSample representa uma leitura completa de um tick.
// Imutável após registrada.
type MetricSample struct {
	Timestamp       time.Time `json:"timestamp"`
	Entity          string    `json:"entity"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	ConnectionCount float64   `json:"connection_count"`

	// Apenas informativos (corpo das mensagens), nunca entram na decisão
	NetInBytesPerSec  float64 `json:"net_in_bytes_per_sec"`
	NetOutBytesPerSec float64 `json:"net_out_bytes_per_sec"`
}

// Value retorna o valor da métrica no sample
func (s MetricSample) Value(m Metric) float64 {
	switch m {
	case MetricCPU:
		return s.CPUPercent
	case MetricMemory:
		return s.MemoryPercent
	case MetricConnections:
		return s.ConnectionCount
	default:
		return 0
	}
}

// Threshold limite de uma métrica
type Threshold struct {
	Limit             float64 `json:"limit" mapstructure:"limit" yaml:"limit"`
	RequiredRunLength int     `json:"required_run_length" mapstructure:"required_run_length" yaml:"required_run_length"`
}

// Exceeds retorna true se o valor ultrapassa o limite (estritamente maior)
func (t Threshold) Exceeds(v float64) bool {
	return v > t.Limit
}

// ThresholdSet mapeia métrica -> limite. Fixo durante a execução.
type ThresholdSet map[Metric]Threshold

// DefaultThresholds retorna os limites padrão do detector
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		MetricCPU:         {Limit: 70, RequiredRunLength: 5},
		MetricMemory:      {Limit: 80, RequiredRunLength: 5},
		MetricConnections: {Limit: 500, RequiredRunLength: 5},
	}
}

// Validate verifica se todas as métricas do detector têm limite
func (ts ThresholdSet) Validate() error {
	for _, m := range DetectorMetrics {
		th, ok := ts[m]
		if !ok {
			return fmt.Errorf("threshold ausente para métrica %s", m)
		}
		if th.Limit <= 0 {
			return fmt.Errorf("threshold de %s deve ser maior que 0", m)
		}
		if th.RequiredRunLength < 1 {
			return fmt.Errorf("required_run_length de %s deve ser >= 1", m)
		}
	}
	return nil
}

// Phase estado da histerese
type Phase int

const (
	PhaseNormal Phase = iota
	PhaseAlerting
)

func (p Phase) String() string {
	switch p {
	case PhaseNormal:
		return "NORMAL"
	case PhaseAlerting:
		return "ALERTING"
	default:
		return "UNKNOWN"
	}
}

// ParsePhase converte a forma textual persistida
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "NORMAL":
		return PhaseNormal, nil
	case "ALERTING":
		return PhaseAlerting, nil
	default:
		return PhaseNormal, fmt.Errorf("fase desconhecida: %q", s)
	}
}

// HysteresisState estado por entidade monitorada
type HysteresisState struct {
	Phase        Phase
	EpisodeStart *time.Time
}

// AlertSeverity define níveis de severidade
type AlertSeverity int

const (
	SeverityInfo AlertSeverity = iota
	SeverityWarning
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ThreatLevel nível de ameaça reportado na mensagem de alerta
type ThreatLevel string

const (
	ThreatHigh ThreatLevel = "HIGH"
	ThreatLow  ThreatLevel = "LOW"
)

// Rule identifica a regra do detector que disparou
type Rule string

const (
	RuleSustained    Rule = "SUSTAINED_BREACH"
	RuleSimultaneous Rule = "SIMULTANEOUS_BREACH"
	RuleSensitive    Rule = "SENSITIVE_WINDOW"
)

// Verdict resultado de uma avaliação do detector
type Verdict struct {
	Anomalous   bool        `json:"anomalous"`
	Reason      string      `json:"reason"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	RulesFired  []Rule      `json:"rules_fired"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// AlertKey identifica uma condição alertável de uma entidade
type AlertKey string

// HostKey monta a chave no formato <host>_<condição>
func HostKey(host, condition string) AlertKey {
	return AlertKey(host + "_" + condition)
}

// SubnetNoHostKey chave do alerta de subnet sem hosts
func SubnetNoHostKey(subnet string) AlertKey {
	return AlertKey("subnet_" + subnet + "_nohost")
}

// HostState estado de um host SNMP
type HostState string

const (
	HostOn  HostState = "on"
	HostOff HostState = "off"
)

// HostMetrics resultado de uma coleta SNMP de um host
type HostMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	State         HostState `json:"state"`
	IP            string    `json:"ip_address"`
	MAC           string    `json:"mac_address"`
	TotalRAMMB    float64   `json:"total_ram_mb"`
	UsedRAMMB     float64   `json:"used_ram_mb"`
	LinkSpeedMbps float64   `json:"link_speed"`
	NetInMbps     float64   `json:"network_in_mbps"`
	NetOutMbps    float64   `json:"network_out_mbps"`
	CPUPercent    float64   `json:"cpu_load_percent"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	DiskUsedMB    float64   `json:"disk_used_mb"`
	DiskTotalMB   float64   `json:"disk_total_mb"`
}

// RAMPercent uso de RAM em % (0 quando total desconhecido)
func (h HostMetrics) RAMPercent() float64 {
	if h.TotalRAMMB == 0 {
		return 0
	}
	return h.UsedRAMMB / h.TotalRAMMB * 100
}

// DiskPercent uso de disco em %
func (h HostMetrics) DiskPercent() float64 {
	if h.DiskTotalMB == 0 {
		return 0
	}
	return h.DiskUsedMB / h.DiskTotalMB * 100
}

// OfflineHostMetrics linha de um host sem resposta
func OfflineHostMetrics(ip string, ts time.Time) HostMetrics {
	return HostMetrics{
		Timestamp: ts,
		State:     HostOff,
		IP:        ip,
		MAC:       "Unknown",
	}
}
