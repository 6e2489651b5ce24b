package storage

import (
	"math"
	"sync"

	"anomaly-watchdog/internal/monitoring/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultHistorySize quantidade de valores retidos por métrica
	DefaultHistorySize = 100
	// DecisionWindowSize quantidade de valores usados nas decisões
	DecisionWindowSize = 10
)

// Trend tendência de uma série
type Trend string

const (
	TrendRising  Trend = "increasing"
	TrendFalling Trend = "decreasing"
	TrendStable  Trend = "stable"
)

// SlidingWindowHistory mantém os últimos N valores de cada métrica (FIFO)
type SlidingWindowHistory struct {
	series   map[models.Metric][]float64
	capacity int
	appended int64
	mu       sync.RWMutex
}

// NewSlidingWindowHistory cria histórico com capacidade por métrica.
// capacity <= 0 usa DefaultHistorySize.
func NewSlidingWindowHistory(capacity int) *SlidingWindowHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}

	log.Debug().
		Int("capacity", capacity).
		Msg("SlidingWindowHistory initialized")

	return &SlidingWindowHistory{
		series:   make(map[models.Metric][]float64),
		capacity: capacity,
	}
}

// Append adiciona valor ao final, descartando o mais antigo quando cheio
func (h *SlidingWindowHistory) Append(metric models.Metric, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	values := append(h.series[metric], value)
	if len(values) > h.capacity {
		// Copia para não reter o array antigo indefinidamente
		trimmed := make([]float64, h.capacity, h.capacity+1)
		copy(trimmed, values[len(values)-h.capacity:])
		values = trimmed
	}
	h.series[metric] = values
	h.appended++
}

// AppendSample adiciona os valores das três métricas do detector
func (h *SlidingWindowHistory) AppendSample(sample models.MetricSample) {
	for _, m := range models.DetectorMetrics {
		h.Append(m, sample.Value(m))
	}
}

// Last retorna os k valores mais recentes em ordem cronológica.
// Retorna menos que k se o histórico for curto.
func (h *SlidingWindowHistory) Last(metric models.Metric, k int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	values := h.series[metric]
	if k <= 0 || len(values) == 0 {
		return []float64{}
	}
	if k > len(values) {
		k = len(values)
	}

	out := make([]float64, k)
	copy(out, values[len(values)-k:])
	return out
}

// Windows retorna a janela de decisão (últimos k) de todas as métricas do detector
func (h *SlidingWindowHistory) Windows(k int) map[models.Metric][]float64 {
	windows := make(map[models.Metric][]float64, len(models.DetectorMetrics))
	for _, m := range models.DetectorMetrics {
		windows[m] = h.Last(m, k)
	}
	return windows
}

// Len retorna quantidade de valores retidos da métrica
func (h *SlidingWindowHistory) Len(metric models.Metric) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[metric])
}

// Restore semeia o histórico a partir do resumo de um checkpoint
func (h *SlidingWindowHistory) Restore(summary map[models.Metric][]float64) {
	restored := 0
	for metric, values := range summary {
		for _, v := range values {
			h.Append(metric, v)
			restored++
		}
	}

	if restored > 0 {
		log.Info().
			Int("values", restored).
			Int("cpu_samples", h.Len(models.MetricCPU)).
			Int("memory_samples", h.Len(models.MetricMemory)).
			Int("connection_samples", h.Len(models.MetricConnections)).
			Msg("Window history restored from checkpoint")
	}
}

// Stats retorna estatísticas do histórico
func (h *SlidingWindowHistory) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HistoryStats{
		Capacity:      h.capacity,
		TotalAppended: h.appended,
		Series:        make(map[models.Metric]SeriesStats, len(h.series)),
	}

	for metric, values := range h.series {
		avg := Average(values)
		stats.Series[metric] = SeriesStats{
			Count:   len(values),
			Average: avg,
			Min:     Min(values),
			Max:     Max(values),
			StdDev:  stdDev(values, avg),
			Trend:   CalculateTrend(values),
		}
	}

	return stats
}

// HistoryStats estatísticas do histórico
type HistoryStats struct {
	Capacity      int
	TotalAppended int64
	Series        map[models.Metric]SeriesStats
}

// SeriesStats estatísticas de uma série
type SeriesStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"std_dev"`
	Trend   Trend   `json:"trend"`
}

// Average calcula média
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Min retorna valor mínimo
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	minVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
	}
	return minVal
}

// Max retorna valor máximo
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

// stdDev calcula desvio padrão
func stdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}

	return math.Sqrt(sumSquares / float64(len(values)))
}

// CalculateTrend compara a média do primeiro e do último terço (diferença > 10%)
func CalculateTrend(values []float64) Trend {
	if len(values) < 3 {
		return TrendStable
	}

	third := len(values) / 3
	avgFirst := Average(values[:third])
	avgLast := Average(values[len(values)-third:])

	if avgFirst == 0 {
		if avgLast > 0 {
			return TrendRising
		}
		return TrendStable
	}

	percentChange := ((avgLast - avgFirst) / avgFirst) * 100
	if percentChange > 10 {
		return TrendRising
	} else if percentChange < -10 {
		return TrendFalling
	}

	return TrendStable
}

// EndpointTrend compara apenas o primeiro e o último valor.
// Valor final igual ou menor conta como queda.
func EndpointTrend(values []float64) Trend {
	if len(values) < 2 {
		return TrendStable
	}
	if values[len(values)-1] > values[0] {
		return TrendRising
	}
	return TrendFalling
}
