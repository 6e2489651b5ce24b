package scanner

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"anomaly-watchdog/internal/monitoring/monitor"
)

// TargetMode define como os hosts do ciclo são obtidos
type TargetMode int

const (
	TargetModeDiscovery TargetMode = iota // varredura da subnet a cada ciclo
	TargetModeStatic                      // lista fixa de hosts
)

func (m TargetMode) String() string {
	switch m {
	case TargetModeDiscovery:
		return "Discovery"
	case TargetModeStatic:
		return "Static"
	default:
		return "Unknown"
	}
}

// HostRules limites e cooldowns das regras por host
type HostRules struct {
	CPUPercent     float64
	RAMPercent     float64
	DiskPercent    float64
	MinUptime      time.Duration // uptime abaixo disso (e > 0) indica reboot recente
	NetLinkPercent float64       // % da velocidade do link

	CPUCooldown     time.Duration
	RAMCooldown     time.Duration
	DiskCooldown    time.Duration
	UptimeCooldown  time.Duration
	NetCooldown     time.Duration
	MACCooldown     time.Duration
	OfflineCooldown time.Duration
	NoHostCooldown  time.Duration
}

// DefaultHostRules retorna as regras padrão
func DefaultHostRules() HostRules {
	return HostRules{
		CPUPercent:      90,
		RAMPercent:      90,
		DiskPercent:     80,
		MinUptime:       600 * time.Second,
		NetLinkPercent:  80,
		CPUCooldown:     600 * time.Second,
		RAMCooldown:     600 * time.Second,
		DiskCooldown:    900 * time.Second,
		UptimeCooldown:  1800 * time.Second,
		NetCooldown:     600 * time.Second,
		MACCooldown:     600 * time.Second,
		OfflineCooldown: 60 * time.Second,
		NoHostCooldown:  600 * time.Second,
	}
}

// PollConfig configuração do poller multi-host
type PollConfig struct {
	// Hosts explícitos; vazio = descoberta da Subnet
	Hosts  []string
	Subnet string

	SNMP monitor.SNMPConfig

	Interval    time.Duration // intervalo entre ciclos
	MaxWorkers  int           // largura do pool de coleta
	HostTimeout time.Duration // prazo de coleta de um host

	DiscoveryTimeout time.Duration // sysDescr da varredura (sem retries)
	DiscoveryWorkers int
	MaxSubnetHosts   int // recusa subnets maiores

	TrustedFile string
	Rules       HostRules
}

// DefaultPollConfig retorna configuração padrão
func DefaultPollConfig() *PollConfig {
	return &PollConfig{
		Subnet:           "172.20.10.0/24",
		SNMP:             monitor.DefaultSNMPConfig(),
		Interval:         5 * time.Minute,
		MaxWorkers:       3,
		HostTimeout:      30 * time.Second,
		DiscoveryTimeout: time.Second,
		DiscoveryWorkers: 32,
		MaxSubnetHosts:   4096,
		TrustedFile:      "Trust_Devices.txt",
		Rules:            DefaultHostRules(),
	}
}

// Mode modo de obtenção de alvos
func (c *PollConfig) Mode() TargetMode {
	if len(c.Hosts) > 0 {
		return TargetModeStatic
	}
	return TargetModeDiscovery
}

// Validate valida a configuração
func (c *PollConfig) Validate() error {
	var problems []string

	if c.Interval < 10*time.Second {
		problems = append(problems, fmt.Sprintf("intervalo mínimo é 10s, recebido: %v", c.Interval))
	}
	if c.MaxWorkers < 1 {
		problems = append(problems, fmt.Sprintf("max_workers deve ser >= 1, recebido: %d", c.MaxWorkers))
	}
	// A coleta de rede sozinha leva NetworkSampleGap
	if c.HostTimeout <= c.SNMP.NetworkSampleGap {
		problems = append(problems, fmt.Sprintf("host_timeout (%v) deve ser maior que o intervalo de amostragem de rede (%v)", c.HostTimeout, c.SNMP.NetworkSampleGap))
	}
	if c.SNMP.Community == "" {
		problems = append(problems, "community SNMP é obrigatória")
	}

	switch c.Mode() {
	case TargetModeStatic:
		for _, h := range c.Hosts {
			if _, err := netip.ParseAddr(h); err != nil {
				problems = append(problems, fmt.Sprintf("host inválido: %q", h))
			}
		}
	case TargetModeDiscovery:
		prefix, err := netip.ParsePrefix(c.Subnet)
		if err != nil {
			problems = append(problems, fmt.Sprintf("subnet inválida: %q", c.Subnet))
		} else if size := PrefixSize(prefix); c.MaxSubnetHosts > 0 && size > c.MaxSubnetHosts {
			problems = append(problems, fmt.Sprintf("subnet %s tem %d endereços (máximo %d)", c.Subnet, size, c.MaxSubnetHosts))
		}
		if c.DiscoveryWorkers < 1 {
			problems = append(problems, "discovery_workers deve ser >= 1")
		}
	}

	r := c.Rules
	for name, v := range map[string]float64{
		"cpu":  r.CPUPercent,
		"ram":  r.RAMPercent,
		"disk": r.DiskPercent,
		"net":  r.NetLinkPercent,
	} {
		if v <= 0 || v > 100 {
			problems = append(problems, fmt.Sprintf("limite %s deve estar entre 0 e 100, recebido: %.1f", name, v))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuração de polling inválida: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Summary retorna resumo da configuração
func (c *PollConfig) Summary() string {
	var summary string

	summary += fmt.Sprintf("Modo: %s\n", c.Mode())
	switch c.Mode() {
	case TargetModeStatic:
		summary += fmt.Sprintf("Hosts: %s\n", strings.Join(c.Hosts, ", "))
	case TargetModeDiscovery:
		summary += fmt.Sprintf("Subnet: %s\n", c.Subnet)
	}
	summary += fmt.Sprintf("Intervalo: %v\n", c.Interval)
	summary += fmt.Sprintf("Workers: %d\n", c.MaxWorkers)
	summary += fmt.Sprintf("Dispositivos confiáveis: %s\n", c.TrustedFile)

	return summary
}
