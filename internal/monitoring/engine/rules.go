package engine

import (
	"context"
	"time"

	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/notify"
	"anomaly-watchdog/internal/monitoring/scanner"
	"code.cloudfoundry.org/clock"
)

// Condições das regras por host (sufixo da AlertKey)
const (
	CondCPUHigh    = "cpu_high"
	CondRAMHigh    = "ram_high"
	CondDiskHigh   = "disk_high"
	CondUptimeLow  = "uptime_low"
	CondNetSpike   = "net_spike"
	CondUnknownMAC = "unknown_mac"
	CondOffline    = "offline"
)

// TrustedList lista de MACs confiáveis (scanner.TrustedDevices)
type TrustedList interface {
	Contains(mac string) bool
}

// HostRuleSet aplica as regras de cooldown sobre uma coleta de host
type HostRuleSet struct {
	rules       scanner.HostRules
	alerts      scanner.Alerter
	trusted     TrustedList
	trustedFile string
	clock       clock.Clock
}

// NewHostRuleSet cria o conjunto de regras
func NewHostRuleSet(rules scanner.HostRules, alerts scanner.Alerter, trusted TrustedList, trustedFile string, clk clock.Clock) *HostRuleSet {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &HostRuleSet{
		rules:       rules,
		alerts:      alerts,
		trusted:     trusted,
		trustedFile: trustedFile,
		clock:       clk,
	}
}

// Offline host sem resposta
func (r *HostRuleSet) Offline(ctx context.Context, ip string) bool {
	return r.alerts.Fire(ctx, models.HostKey(ip, CondOffline), alerting.HostOffline(ip, r.clock.Now()), r.rules.OfflineCooldown, nil)
}

// Evaluate aplica as regras de um host online e retorna as chaves disparadas.
// Toda regra que não está violada limpa a própria chave, exceto MAC desconhecido.
func (r *HostRuleSet) Evaluate(ctx context.Context, m models.HostMetrics) []models.AlertKey {
	now := r.clock.Now()
	ip := m.IP
	var fired []models.AlertKey

	check := func(cond string, breach bool, cooldown time.Duration, value any, build func() notify.Message) {
		key := models.HostKey(ip, cond)
		if !breach {
			r.alerts.Clear(key)
			return
		}
		if r.alerts.Fire(ctx, key, build(), cooldown, value) {
			fired = append(fired, key)
		}
	}

	r.alerts.Clear(models.HostKey(ip, CondOffline))

	check(CondCPUHigh, m.CPUPercent > r.rules.CPUPercent, r.rules.CPUCooldown, m.CPUPercent, func() notify.Message {
		return alerting.HostCPUHigh(ip, m.CPUPercent, r.rules.CPUPercent, now)
	})

	ramPercent := m.RAMPercent()
	check(CondRAMHigh, ramPercent > r.rules.RAMPercent, r.rules.RAMCooldown, ramPercent, func() notify.Message {
		return alerting.HostRAMHigh(ip, ramPercent, m.UsedRAMMB, m.TotalRAMMB, r.rules.RAMPercent, now)
	})

	diskPercent := m.DiskPercent()
	check(CondDiskHigh, diskPercent > r.rules.DiskPercent, r.rules.DiskCooldown, diskPercent, func() notify.Message {
		return alerting.HostDiskHigh(ip, diskPercent, m.DiskUsedMB, m.DiskTotalMB, r.rules.DiskPercent, now)
	})

	rebooted := m.UptimeSeconds > 0 && m.UptimeSeconds < r.rules.MinUptime.Seconds()
	check(CondUptimeLow, rebooted, r.rules.UptimeCooldown, m.UptimeSeconds, func() notify.Message {
		return alerting.HostUptimeLow(ip, m.UptimeSeconds, r.rules.MinUptime, now)
	})

	// Sem velocidade de link não há referência: a regra não é avaliada
	if m.LinkSpeedMbps > 0 {
		limit := r.rules.NetLinkPercent / 100 * m.LinkSpeedMbps
		spike := m.NetInMbps > limit || m.NetOutMbps > limit
		pair := alerting.NetPair{In: m.NetInMbps, Out: m.NetOutMbps}
		check(CondNetSpike, spike, r.rules.NetCooldown, pair, func() notify.Message {
			return alerting.HostNetSpike(ip, m.NetInMbps, m.NetOutMbps, m.LinkSpeedMbps, r.rules.NetLinkPercent, now)
		})
	}

	if r.trusted != nil && m.MAC != "" && m.MAC != "Unknown" && !r.trusted.Contains(m.MAC) {
		key := models.HostKey(ip, CondUnknownMAC)
		if r.alerts.Fire(ctx, key, alerting.UnknownMAC(ip, m.MAC, r.trustedFile, now), r.rules.MACCooldown, nil) {
			fired = append(fired, key)
		}
	}

	return fired
}
