package alerting

import (
	"fmt"
	"strings"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/notify"
)

const (
	displayTime  = "02/01/2006 15:04:05"
	subjectTime  = "02/01/2006 15:04"
	idTime       = "20060102150405"
	hostTime     = "2006-01-02 15:04:05"
	headerRule   = "=============================================="
	bytesPerMiB  = 1024 * 1024
	unknownValue = "Desconhecida"
)

// AlertID identificador do alerta de padrão (DOS-yyyymmddHHMMSS)
func AlertID(ts time.Time) string {
	return "DOS-" + ts.Format(idTime)
}

// RecoveryID identificador da recuperação (REC-yyyymmddHHMMSS)
func RecoveryID(ts time.Time) string {
	return "REC-" + ts.Format(idTime)
}

// FormatDuration formata como H:MM:SS (horas podem passar de 24)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// code coloca um valor dinâmico em code span do Markdown do Telegram.
// Dentro do span "_" e "*" não abrem entidades; crase vira aspa simples.
func code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

func marker(breach bool) string {
	if breach {
		return "🔴"
	}
	return "🟢"
}

// PatternAlert mensagem de entrada em ALERTING
func PatternAlert(entity string, verdict models.Verdict, sample models.MetricSample, thresholds models.ThresholdSet) notify.Message {
	ts := sample.Timestamp
	cpuTh := thresholds[models.MetricCPU]
	memTh := thresholds[models.MetricMemory]
	connTh := thresholds[models.MetricConnections]

	var b strings.Builder
	b.WriteString("🚨 ALERTA DE SEGURANÇA - SUSPEITA DE ATAQUE AO SISTEMA\n")
	b.WriteString(headerRule + "\n\n")

	b.WriteString("📊 *INFORMAÇÕES DO ALERTA:*\n")
	fmt.Fprintf(&b, "🔥 Nível de ameaça: *%s*\n", verdict.ThreatLevel)
	fmt.Fprintf(&b, "⏰ Detectado em: *%s*\n", ts.Format(displayTime))
	fmt.Fprintf(&b, "💻 Sistema: %s\n", code(entity))
	fmt.Fprintf(&b, "🆔 Código do alerta: *%s*\n\n", AlertID(ts))

	b.WriteString("📈 *MÉTRICAS ATUAIS:*\n")
	fmt.Fprintf(&b, "├─ 🖥️ Uso de CPU: *%.1f%%* %s\n", sample.CPUPercent, marker(cpuTh.Exceeds(sample.CPUPercent)))
	fmt.Fprintf(&b, "├─ 🧠 Uso de RAM: *%.1f%%* %s\n", sample.MemoryPercent, marker(memTh.Exceeds(sample.MemoryPercent)))
	fmt.Fprintf(&b, "├─ 🌐 Conexões de rede: *%.0f* %s\n", sample.ConnectionCount, marker(connTh.Exceeds(sample.ConnectionCount)))
	fmt.Fprintf(&b, "├─ ⬇️ Rede entrada: *%.2f MB/s*\n", sample.NetInBytesPerSec/bytesPerMiB)
	fmt.Fprintf(&b, "└─ ⬆️ Rede saída: *%.2f MB/s*\n\n", sample.NetOutBytesPerSec/bytesPerMiB)

	b.WriteString("🎯 *ANÁLISE:*\n")
	b.WriteString(verdict.Reason + "\n\n")

	b.WriteString("⚡ *AÇÕES RECOMENDADAS:*\n")
	b.WriteString("🔍 Verificar imediatamente os processos em execução\n")
	b.WriteString("👀 Analisar tráfego de rede anormal\n")
	b.WriteString("📝 Acompanhar os logs do sistema em detalhe\n")
	b.WriteString("🚫 Considerar bloquear IPs suspeitos se necessário\n\n")

	b.WriteString("🔔 *O sistema notificará automaticamente quando a situação estabilizar*\n")

	return notify.Message{
		Severity: models.SeverityCritical,
		Title:    fmt.Sprintf("🚨 ALERTA DE SEGURANÇA - Suspeita de ataque ao sistema [%s]", ts.Format(subjectTime)),
		Body:     b.String(),
		Email:    true,
	}
}

// Recovery mensagem de volta a NORMAL
func Recovery(entity string, now time.Time, duration time.Duration, known bool) notify.Message {
	durationStr := unknownValue
	if known {
		durationStr = FormatDuration(duration)
	}

	var b strings.Builder
	b.WriteString("✅ RELATÓRIO DO SISTEMA\n")
	b.WriteString(headerRule + "\n\n")
	b.WriteString("🟢 Status: *Sistema estabilizado*\n")
	fmt.Fprintf(&b, "⏰ Recuperado em: *%s*\n", now.Format(displayTime))
	fmt.Fprintf(&b, "⌛ Duração do alerta: *%s*\n", durationStr)
	fmt.Fprintf(&b, "🆔 Código da recuperação: *%s*\n\n", RecoveryID(now))

	b.WriteString("📊 *ANÁLISE:*\n")
	b.WriteString("⚡ Recuperação: *Imediata* (1 ciclo de verificação limpo)\n")
	b.WriteString("💡 Recomendação: *Continuar monitorando pelos próximos 30 minutos*\n\n")

	fmt.Fprintf(&b, "🔗 *Sistema:* %s\n", code(entity))

	return notify.Message{
		Severity: models.SeverityInfo,
		Title:    fmt.Sprintf("✅ RELATÓRIO DO SISTEMA [%s]", now.Format(subjectTime)),
		Body:     b.String(),
		Email:    true,
	}
}

// HostCPUHigh alerta de CPU de um host SNMP
func HostCPUHigh(ip string, cpu, threshold float64, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityWarning,
		Title:    "Alerta de CPU: " + ip,
		Body: fmt.Sprintf("🔥 *ALERTA DE CPU*\nDispositivo %s acima do limite de CPU: *%.2f%%*\nLimite: %.0f%%\n⏰ %s",
			code(ip), cpu, threshold, now.Format(hostTime)),
	}
}

// HostRAMHigh alerta de RAM
func HostRAMHigh(ip string, percent, usedMB, totalMB, threshold float64, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityWarning,
		Title:    "Alerta de RAM: " + ip,
		Body: fmt.Sprintf("📊 *ALERTA DE RAM*\nDispositivo %s acima do limite de RAM: *%.1f%%*\nEm uso: %.1f MB / %.1f MB\nLimite: %.0f%%\n⏰ %s",
			code(ip), percent, usedMB, totalMB, threshold, now.Format(hostTime)),
	}
}

// HostDiskHigh alerta de disco
func HostDiskHigh(ip string, percent, usedMB, totalMB, threshold float64, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityWarning,
		Title:    "Alerta de disco: " + ip,
		Body: fmt.Sprintf("💾 *ALERTA DE DISCO*\nDispositivo %s com disco quase cheio!\nUsado: %.1f MB / %.1f MB (%.1f%%)\nLimite: %.0f%%\n⏰ %s",
			code(ip), usedMB, totalMB, percent, threshold, now.Format(hostTime)),
	}
}

// HostUptimeLow alerta de reinicialização recente
func HostUptimeLow(ip string, uptimeSec float64, threshold time.Duration, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityWarning,
		Title:    "Alerta de reinicialização: " + ip,
		Body: fmt.Sprintf("🔄 *ALERTA DE REINICIALIZAÇÃO*\nDispositivo %s acabou de reiniciar!\nTempo ligado: %.0f segundos (%.1f minutos)\nLimite: < %.0f segundos\n⏰ %s",
			code(ip), uptimeSec, uptimeSec/60, threshold.Seconds(), now.Format(hostTime)),
	}
}

// HostNetSpike alerta de tráfego acima do percentual do link
func HostNetSpike(ip string, in, out, linkMbps, thresholdPercent float64, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityWarning,
		Title:    "Alerta de tráfego: " + ip,
		Body: fmt.Sprintf("🌐 *ALERTA DE TRÁFEGO DE REDE*\nDispositivo %s com tráfego anormalmente alto!\nEntrada: %.2f Mbps | Saída: %.2f Mbps\nLimite: %.0f%% de %.2f Mbps\n⏰ %s",
			code(ip), in, out, thresholdPercent, linkMbps, now.Format(hostTime)),
	}
}

// UnknownMAC alerta de dispositivo fora da lista confiável (com e-mail)
func UnknownMAC(ip, mac, trustedFile string, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityCritical,
		Title:    "ALERTA DE DISPOSITIVO DESCONHECIDO IP " + ip,
		Body: fmt.Sprintf("🚨 *ALERTA DE DISPOSITIVO DESCONHECIDO*\nDispositivo SNMP IP %s tem MAC *fora da lista confiável!*\nMAC detectado: %s\nVerifique e adicione em %s se for um dispositivo legítimo.\n⏰ %s",
			code(ip), code(mac), code(trustedFile), now.Format(hostTime)),
		Email: true,
	}
}

// HostOffline alerta de host sem resposta SNMP (com e-mail)
func HostOffline(ip string, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityCritical,
		Title:    "Dispositivo sem conexão SNMP: " + ip,
		Body: fmt.Sprintf("❌ *ALERTA SNMP*\nDispositivo %s *perdeu conexão* ou *foi desligado*.\n⏰ Momento: %s",
			code(ip), now.Format(hostTime)),
		Email: true,
	}
}

// SubnetNoHost alerta de subnet sem nenhum host SNMP (com e-mail)
func SubnetNoHost(subnet string, now time.Time) notify.Message {
	return notify.Message{
		Severity: models.SeverityCritical,
		Title:    fmt.Sprintf("NENHUM DISPOSITIVO SNMP ENCONTRADO (%s)", subnet),
		Body: fmt.Sprintf("🚨 *ALERTA DO SISTEMA DE MONITORAMENTO SNMP*\nNENHUM DISPOSITIVO SNMP DETECTADO NA FAIXA %s!\nTodos os dispositivos estão offline ou sem resposta.\nVerifique:\n• Conexão de rede\n• Community SNMP\n• Regras de firewall\n⏰ %s",
			code(subnet), now.Format(hostTime)),
		Email: true,
	}
}
