package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"anomaly-watchdog/internal/history"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Snapshot dados exibidos pelo comando status
type Snapshot struct {
	GeneratedAt time.Time

	// Checkpoint nil = arquivo ausente (NORMAL)
	Checkpoint     *storage.PersistedState
	CheckpointPath string
	CheckpointErr  error

	Hosts  []models.HostMetrics
	Alerts []history.AlertEntry
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("87"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
)

// RenderStatus renderiza o snapshot na largura informada (0 = 100 colunas)
func RenderStatus(s Snapshot, width int) string {
	if width <= 0 {
		width = 100
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("🛡  anomaly-watchdog status"))
	b.WriteString("\n")

	b.WriteString(renderCheckpoint(s))
	b.WriteString("\n")
	b.WriteString(RenderHosts(s.Hosts, width))
	b.WriteString("\n")
	b.WriteString(renderAlerts(s.Alerts, width))

	if !s.GeneratedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("Atualizado em " + s.GeneratedAt.Format("2006-01-02 15:04:05")))
		b.WriteString("\n")
	}
	return b.String()
}

func field(label, value string) string {
	return labelStyle.Render(padRight(label+":", 16)) + value + "\n"
}

func renderCheckpoint(s Snapshot) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Detector"))
	b.WriteString("\n")

	if s.CheckpointPath != "" {
		b.WriteString(field("Checkpoint", mutedStyle.Render(s.CheckpointPath)))
	}

	switch {
	case s.CheckpointErr != nil:
		b.WriteString(field("Fase", errStyle.Render("ILEGÍVEL")))
		b.WriteString(field("Erro", s.CheckpointErr.Error()))
		return b.String()
	case s.Checkpoint == nil:
		b.WriteString(field("Fase", okStyle.Render(models.PhaseNormal.String())))
		b.WriteString(field("Estado", mutedStyle.Render("sem checkpoint")))
		return b.String()
	}

	cp := s.Checkpoint
	phase := cp.Hysteresis.Phase
	if phase == models.PhaseAlerting {
		b.WriteString(field("Fase", errStyle.Render(phase.String())))
	} else {
		b.WriteString(field("Fase", okStyle.Render(phase.String())))
	}

	if start := cp.Hysteresis.EpisodeStart; start != nil {
		since := s.GeneratedAt
		if since.IsZero() {
			since = time.Now()
		}
		b.WriteString(field("Episódio", fmt.Sprintf("%s (%s)",
			start.Format("2006-01-02 15:04:05"), since.Sub(*start).Truncate(time.Second))))
	}
	if !cp.SavedAt.IsZero() {
		b.WriteString(field("Salvo em", cp.SavedAt.Format("2006-01-02 15:04:05")))
	}

	for _, metric := range models.DetectorMetrics {
		values := cp.WindowSummary[metric]
		b.WriteString(field(string(metric), valueStyle.Render(formatWindow(values, 10))))
	}
	return b.String()
}

// formatWindow últimos n valores da janela
func formatWindow(values []float64, n int) string {
	if len(values) == 0 {
		return "-"
	}
	if len(values) > n {
		values = values[len(values)-n:]
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.0f", v)
	}
	return strings.Join(parts, " ")
}

// RenderHosts tabela das últimas linhas por host
func RenderHosts(hosts []models.HostMetrics, width int) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Hosts (%d)", len(hosts))))
	b.WriteString("\n")

	if len(hosts) == 0 {
		b.WriteString(mutedStyle.Render("Nenhuma coleta SNMP registrada"))
		b.WriteString("\n")
		return b.String()
	}

	sorted := append([]models.HostMetrics(nil), hosts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IP < sorted[j].IP })

	header := fmt.Sprintf("%s %s %s %s %s %s %s",
		padRight("IP", 16), padRight("ESTADO", 7), padRight("MAC", 18),
		padLeft("CPU%", 6), padLeft("RAM%", 6), padLeft("DISCO%", 7), padLeft("IN/OUT Mbps", 15))
	b.WriteString(labelStyle.Render(truncate(header, width)))
	b.WriteString("\n")

	for _, h := range sorted {
		state := okStyle.Render(padRight(string(h.State), 7))
		if h.State != models.HostOn {
			state = errStyle.Render(padRight(string(h.State), 7))
		}
		net := fmt.Sprintf("%.1f/%.1f", h.NetInMbps, h.NetOutMbps)
		line := fmt.Sprintf("%s %s %s %s %s %s %s",
			padRight(h.IP, 16), state, padRight(truncate(h.MAC, 17), 18),
			padLeft(fmt.Sprintf("%.1f", h.CPUPercent), 6),
			padLeft(fmt.Sprintf("%.1f", h.RAMPercent()), 6),
			padLeft(fmt.Sprintf("%.1f", h.DiskPercent()), 7),
			padLeft(net, 15))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func renderAlerts(alerts []history.AlertEntry, width int) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Últimos alertas (%d)", len(alerts))))
	b.WriteString("\n")

	if len(alerts) == 0 {
		b.WriteString(mutedStyle.Render("Nenhum alerta registrado"))
		b.WriteString("\n")
		return b.String()
	}

	for _, a := range alerts {
		status := okStyle.Render("✔")
		if a.Status == history.StatusFailed {
			status = errStyle.Render("✘")
		}

		severity := labelStyle.Render(padRight(a.Severity, 8))
		switch a.Severity {
		case models.SeverityCritical.String():
			severity = errStyle.Render(padRight(a.Severity, 8))
		case models.SeverityWarning.String():
			severity = warnStyle.Render(padRight(a.Severity, 8))
		}

		prefix := fmt.Sprintf("%s %s ", a.Timestamp.Format("01-02 15:04:05"), padRight(a.Key, 24))
		title := truncate(a.Title, width-runewidth.StringWidth(prefix)-12)
		b.WriteString(status + " " + severity + " " + prefix + title)
		b.WriteString("\n")
	}
	return b.String()
}

// truncate corta pela largura exibida (emojis contam 2 células)
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

func padLeft(s string, width int) string {
	return runewidth.FillLeft(s, width)
}
