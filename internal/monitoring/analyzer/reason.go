package analyzer

import (
	"fmt"
	"strings"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/storage"
)

const (
	// reasonLookback leituras recentes analisadas por métrica
	reasonLookback = 5
	// reasonMinBreaches mínimo de leituras acima do limite para citar a métrica
	reasonMinBreaches = 3
)

var metricIcons = map[models.Metric]string{
	models.MetricCPU:         "🖥️",
	models.MetricMemory:      "🧠",
	models.MetricConnections: "🌐",
}

// buildReason monta o texto de análise anexado ao alerta
func (d *Detector) buildReason(windows map[models.Metric][]float64, sustained []sustainedRun, sample models.MetricSample, now time.Time) string {
	lines := []string{}

	for _, s := range sustained {
		lines = append(lines, fmt.Sprintf("%s %s: %d leituras consecutivas acima de %s",
			metricIcons[s.Metric], s.Metric.Label(), s.Run,
			formatLimit(d.config.Thresholds[s.Metric].Limit)))
	}

	for _, m := range models.DetectorMetrics {
		values := windows[m]
		if len(values) < reasonLookback {
			continue
		}
		recent := values[len(values)-reasonLookback:]
		over := countOver(recent, d.config.Thresholds[m].Limit)
		if over < reasonMinBreaches {
			continue
		}

		line := fmt.Sprintf("%s %s: %d/%d últimas leituras acima do limite seguro",
			metricIcons[m], m.Label(), over, reasonLookback)
		if m == models.MetricCPU {
			line += fmt.Sprintf(" (tendência de %s)", trendLabel(storage.EndpointTrend(recent)))
		}
		lines = append(lines, line)
	}

	allOver := true
	for _, m := range models.DetectorMetrics {
		if !d.config.Thresholds[m].Exceeds(sample.Value(m)) {
			allOver = false
			break
		}
	}
	if allOver {
		lines = append(lines, "⚠️ Todas as métricas com sinais de alta acentuada")
	}

	if d.inSensitiveWindow(now) {
		lines = append(lines, "🌙 Detectado em janela sensível (fim de semana)")
	}

	if len(lines) == 0 {
		lines = append(lines, "🎯 Condição de alerta combinada acionada")
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString("├─ ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("└─ 🤖 Avaliação do sistema: sinais anormais que exigem acompanhamento")

	return b.String()
}

func countOver(values []float64, limit float64) int {
	count := 0
	for _, v := range values {
		if v > limit {
			count++
		}
	}
	return count
}

func trendLabel(t storage.Trend) string {
	switch t {
	case storage.TrendRising:
		return "alta"
	case storage.TrendFalling:
		return "queda"
	default:
		return "estabilidade"
	}
}

func formatLimit(limit float64) string {
	if limit == float64(int64(limit)) {
		return fmt.Sprintf("%d", int64(limit))
	}
	return fmt.Sprintf("%.1f", limit)
}
