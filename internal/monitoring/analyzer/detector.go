package analyzer

import (
	"fmt"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/storage"
	"github.com/rs/zerolog/log"
)

// Detector avalia as três regras combinadas sobre a janela de decisão
type Detector struct {
	config *DetectorConfig
}

// SustainedMode define onde a sequência da regra sustentada pode estar
type SustainedMode int

const (
	// SustainedAnywhere sequência em qualquer ponto da janela (padrão)
	SustainedAnywhere SustainedMode = iota
	// SustainedTrailing apenas a sequência que termina na leitura atual
	SustainedTrailing
)

func (m SustainedMode) String() string {
	switch m {
	case SustainedAnywhere:
		return "anywhere"
	case SustainedTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

// ParseSustainedMode converte a forma textual da configuração
func ParseSustainedMode(s string) (SustainedMode, error) {
	switch s {
	case "", "anywhere":
		return SustainedAnywhere, nil
	case "trailing":
		return SustainedTrailing, nil
	default:
		return SustainedAnywhere, fmt.Errorf("modo de sequência desconhecido: %q", s)
	}
}

// DetectorConfig configuração do detector
type DetectorConfig struct {
	Thresholds models.ThresholdSet

	// Sustained: onde procurar a sequência de RequiredRunLength
	SustainedMode SustainedMode

	// Janela de decisão (últimos N valores, incluindo o atual)
	WindowSize int

	// Simultaneous: todas as métricas acima do limite na mesma posição
	SimultaneousRunLength int

	// Sensitive: qualquer métrica acima nas últimas N posições, em dias sensíveis
	SensitiveRunLength int
	SensitiveDays      []time.Weekday
}

// DefaultDetectorConfig retorna configuração padrão
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		Thresholds: models.DefaultThresholds(),

		WindowSize: storage.DecisionWindowSize,

		// 2 leituras seguidas com as 3 métricas acima
		SimultaneousRunLength: 2,

		// Fim de semana: 2 leituras seguidas com qualquer métrica acima
		SensitiveRunLength: 2,
		SensitiveDays:      []time.Weekday{time.Saturday, time.Sunday},
	}
}

// NewDetector cria novo detector
func NewDetector(config *DetectorConfig) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	if config.Thresholds == nil {
		config.Thresholds = models.DefaultThresholds()
	}
	if config.WindowSize <= 0 {
		config.WindowSize = storage.DecisionWindowSize
	}

	log.Info().
		Float64("cpu_limit", config.Thresholds[models.MetricCPU].Limit).
		Float64("memory_limit", config.Thresholds[models.MetricMemory].Limit).
		Float64("connections_limit", config.Thresholds[models.MetricConnections].Limit).
		Int("window_size", config.WindowSize).
		Str("sustained_mode", config.SustainedMode.String()).
		Int("simultaneous_run", config.SimultaneousRunLength).
		Int("sensitive_run", config.SensitiveRunLength).
		Msg("Pattern Detector initialized")

	return &Detector{config: config}
}

// Config retorna a configuração em uso
func (d *Detector) Config() *DetectorConfig {
	return d.config
}

// Evaluate avalia as janelas (já contendo o sample atual) no instante now.
// Puro e determinístico: não toca no histórico nem no relógio.
func (d *Detector) Evaluate(windows map[models.Metric][]float64, sample models.MetricSample, now time.Time) models.Verdict {
	truncated := truncateWindows(windows, d.config.WindowSize)
	aligned := alignWindows(truncated)

	verdict := models.Verdict{
		ThreatLevel: models.ThreatLow,
		RulesFired:  []models.Rule{},
		EvaluatedAt: now,
	}

	// 1. Sustained: cada métrica na própria janela, sem alinhamento
	sustained := d.sustainedMetrics(truncated)
	if len(sustained) > 0 {
		verdict.RulesFired = append(verdict.RulesFired, models.RuleSustained)
	}

	// 2. Simultaneous
	if d.config.SimultaneousRunLength > 0 &&
		tripleBreachRun(aligned, d.config.Thresholds) >= d.config.SimultaneousRunLength {
		verdict.RulesFired = append(verdict.RulesFired, models.RuleSimultaneous)
	}

	// 3. Sensitive window
	if d.inSensitiveWindow(now) && d.config.SensitiveRunLength > 0 &&
		trailingAnyBreach(aligned, d.config.Thresholds, d.config.SensitiveRunLength) {
		verdict.RulesFired = append(verdict.RulesFired, models.RuleSensitive)
	}

	verdict.Anomalous = len(verdict.RulesFired) > 0
	if verdict.Anomalous {
		verdict.ThreatLevel = models.ThreatHigh
		verdict.Reason = d.buildReason(truncated, sustained, sample, now)
	}

	log.Debug().
		Bool("anomalous", verdict.Anomalous).
		Interface("rules", verdict.RulesFired).
		Floats64("cpu_window", aligned[models.MetricCPU]).
		Floats64("memory_window", aligned[models.MetricMemory]).
		Floats64("connections_window", aligned[models.MetricConnections]).
		Msg("Pattern evaluated")

	return verdict
}

// sustainedRun descreve uma métrica que disparou a regra sustentada
type sustainedRun struct {
	Metric models.Metric
	Run    int
}

func (d *Detector) sustainedMetrics(windows map[models.Metric][]float64) []sustainedRun {
	fired := []sustainedRun{}
	for _, m := range models.DetectorMetrics {
		th, ok := d.config.Thresholds[m]
		if !ok {
			continue
		}
		var run int
		if d.config.SustainedMode == SustainedTrailing {
			run = trailingRun(windows[m], th.Limit)
		} else {
			run = maxConsecutiveRun(windows[m], th.Limit)
		}
		if run >= th.RequiredRunLength {
			fired = append(fired, sustainedRun{Metric: m, Run: run})
		}
	}
	return fired
}

// inSensitiveWindow verdadeiro durante o dia inteiro nos dias sensíveis.
// O sistema legado tinha a condição "após meia-noite" sempre verdadeira;
// o comportamento efetivo (dia inteiro) é mantido.
func (d *Detector) inSensitiveWindow(now time.Time) bool {
	for _, day := range d.config.SensitiveDays {
		if now.Weekday() == day {
			return true
		}
	}
	return false
}

// maxConsecutiveRun maior sequência contígua de valores > limit em qualquer ponto
func maxConsecutiveRun(values []float64, limit float64) int {
	maxRun, current := 0, 0
	for _, v := range values {
		if v > limit {
			current++
			if current > maxRun {
				maxRun = current
			}
		} else {
			current = 0
		}
	}
	return maxRun
}

// trailingRun sequência de valores > limit que termina no valor mais recente
func trailingRun(values []float64, limit float64) int {
	run := 0
	for i := len(values) - 1; i >= 0 && values[i] > limit; i-- {
		run++
	}
	return run
}

// tripleBreachRun maior sequência de posições em que todas as métricas estão acima
func tripleBreachRun(windows map[models.Metric][]float64, thresholds models.ThresholdSet) int {
	n := positions(windows)
	maxRun, current := 0, 0
	for i := 0; i < n; i++ {
		all := true
		for _, m := range models.DetectorMetrics {
			if !thresholds[m].Exceeds(windows[m][i]) {
				all = false
				break
			}
		}
		if all {
			current++
			if current > maxRun {
				maxRun = current
			}
		} else {
			current = 0
		}
	}
	return maxRun
}

// trailingAnyBreach verdadeiro se as últimas k posições têm alguma métrica acima.
// Janela menor que k nunca dispara.
func trailingAnyBreach(windows map[models.Metric][]float64, thresholds models.ThresholdSet, k int) bool {
	n := positions(windows)
	if n < k {
		return false
	}
	for i := n - k; i < n; i++ {
		if !anyBreach(windows, thresholds, i) {
			return false
		}
	}
	return true
}

func anyBreach(windows map[models.Metric][]float64, thresholds models.ThresholdSet, i int) bool {
	for _, m := range models.DetectorMetrics {
		if thresholds[m].Exceeds(windows[m][i]) {
			return true
		}
	}
	return false
}

// positions quantidade de posições alinhadas (menor janela entre as métricas)
func positions(windows map[models.Metric][]float64) int {
	n := -1
	for _, m := range models.DetectorMetrics {
		if l := len(windows[m]); n < 0 || l < n {
			n = l
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// truncateWindows mantém os últimos size valores de cada métrica
func truncateWindows(windows map[models.Metric][]float64, size int) map[models.Metric][]float64 {
	truncated := make(map[models.Metric][]float64, len(models.DetectorMetrics))
	for _, m := range models.DetectorMetrics {
		values := windows[m]
		if len(values) > size {
			values = values[len(values)-size:]
		}
		truncated[m] = values
	}
	return truncated
}

// alignWindows alinha as janelas pelo final, de forma que a posição i de todas
// as métricas corresponda à mesma leitura. Usado pelas regras entre métricas.
func alignWindows(windows map[models.Metric][]float64) map[models.Metric][]float64 {
	n := positions(windows)
	aligned := make(map[models.Metric][]float64, len(models.DetectorMetrics))
	for _, m := range models.DetectorMetrics {
		values := windows[m]
		aligned[m] = values[len(values)-n:]
	}
	return aligned
}
