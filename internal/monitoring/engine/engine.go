package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/analyzer"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/notify"
	"anomaly-watchdog/internal/monitoring/storage"
	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	engineTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchdog",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Detector ticks by result (evaluated, skipped).",
	}, []string{"result"})
	engineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchdog",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Hysteresis transitions that dispatched a message.",
	}, []string{"action"})
	enginePhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchdog",
		Subsystem: "engine",
		Name:      "alerting",
		Help:      "1 while the entity is in an alert episode.",
	}, []string{"entity"})
)

// ErrTickAbandoned coleta excedeu o prazo do tick
var ErrTickAbandoned = errors.New("tick abandoned: deadline exceeded")

// ResultsWriter destino tabular dos resultados (storage.Persistence)
type ResultsWriter interface {
	SaveSample(sample models.MetricSample, anomalous bool, phase models.Phase) error
	SaveHostMetrics(rows []models.HostMetrics) error
}

// AlertRecorder histórico de disparos (history.Tracker)
type AlertRecorder interface {
	RecordDispatch(key models.AlertKey, msg notify.Message, delivered bool)
}

// Config configuração do engine de detecção
type Config struct {
	Interval    time.Duration // cadência dos ticks
	TickTimeout time.Duration // prazo de coleta de cada tick
	HistorySize int
}

// DefaultConfig retorna configuração padrão
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		TickTimeout: 5 * time.Second,
		HistorySize: storage.DefaultHistorySize,
	}
}

// Deps componentes do engine. Source, Detector, Store e Notifier são obrigatórios.
type Deps struct {
	Source   monitor.SampleSource
	Detector *analyzer.Detector
	Store    *storage.StateStore
	Notifier alerting.Deliverer
	Results  ResultsWriter // opcional
	Recorder AlertRecorder // opcional
	Clock    clock.Clock
}

// TickResult resumo de um tick
type TickResult struct {
	Skipped bool
	Sample  models.MetricSample
	Verdict models.Verdict
	Action  analyzer.Action
	Phase   models.Phase
}

// Status visão do engine para API e dashboard
type Status struct {
	Entity       string                      `json:"entity"`
	Source       string                      `json:"source"`
	Running      bool                        `json:"running"`
	Phase        string                      `json:"phase"`
	EpisodeStart *time.Time                  `json:"episode_start,omitempty"`
	LastVerdict  *models.Verdict             `json:"last_verdict,omitempty"`
	LastSample   *models.MetricSample        `json:"last_sample,omitempty"`
	Windows      map[models.Metric][]float64 `json:"windows"`
	Ticks        int64                       `json:"ticks"`
	SkippedTicks int64                       `json:"skipped_ticks"`
	LastTickAt   time.Time                   `json:"last_tick_at"`
}

// Engine executa o ciclo por tick de uma entidade:
// coleta, histórico, detector, histerese, notificação e checkpoint.
type Engine struct {
	config   Config
	source   monitor.SampleSource
	history  *storage.SlidingWindowHistory
	detector *analyzer.Detector
	store    *storage.StateStore
	notifier alerting.Deliverer
	results  ResultsWriter
	recorder AlertRecorder
	clock    clock.Clock

	// Estado (Tick é sequencial; mu protege leituras concorrentes de Status)
	mu          sync.RWMutex
	state       models.HysteresisState
	lastVerdict *models.Verdict
	lastSample  *models.MetricSample
	ticks       int64
	skipped     int64
	lastTickAt  time.Time

	// Controle
	tickMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New cria engine e restaura o checkpoint (ausente ou inválido = NORMAL)
func New(config Config, deps Deps) (*Engine, error) {
	if deps.Source == nil || deps.Detector == nil || deps.Store == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("engine requires source, detector, store and notifier")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.TickTimeout <= 0 {
		config.TickTimeout = DefaultConfig().TickTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewClock()
	}

	e := &Engine{
		config:   config,
		source:   deps.Source,
		history:  storage.NewSlidingWindowHistory(config.HistorySize),
		detector: deps.Detector,
		store:    deps.Store,
		notifier: deps.Notifier,
		results:  deps.Results,
		recorder: deps.Recorder,
		clock:    deps.Clock,
	}

	restored := deps.Store.Load()
	e.state = restored.Hysteresis
	e.history.Restore(restored.WindowSummary)
	e.setPhaseGauge()

	log.Info().
		Str("entity", e.source.Entity()).
		Str("source", e.source.Name()).
		Str("phase", e.state.Phase.String()).
		Dur("interval", config.Interval).
		Msg("Detector engine initialized")

	return e, nil
}

// Tick executa um ciclo completo. Falha ou atraso na coleta não avança o
// histórico, não avalia e não grava checkpoint.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, e.config.TickTimeout)
	sample, err := e.source.Collect(tctx)
	if err == nil && tctx.Err() != nil {
		err = ErrTickAbandoned
	}
	cancel()

	if err == nil {
		err = checkFinite(&sample)
	}

	if err != nil {
		e.mu.Lock()
		e.skipped++
		e.mu.Unlock()
		engineTicks.WithLabelValues("skipped").Inc()
		return TickResult{Skipped: true}, fmt.Errorf("no data this tick: %w", err)
	}

	now := e.clock.Now()
	entity := e.source.Entity()

	e.history.AppendSample(sample)
	windows := e.history.Windows(e.detector.Config().WindowSize)
	verdict := e.detector.Evaluate(windows, sample, now)

	e.mu.RLock()
	current := e.state
	e.mu.RUnlock()

	outcome := analyzer.Transition(current, verdict.Anomalous, now)

	switch outcome.Action {
	case analyzer.ActionAlert:
		msg := alerting.PatternAlert(entity, verdict, sample, e.detector.Config().Thresholds)
		e.dispatch(ctx, models.HostKey(entity, "pattern"), msg)
		log.Warn().
			Str("entity", entity).
			Strs("rules", rulesToStrings(verdict.RulesFired)).
			Msg("🚨 Anomaly episode started")

	case analyzer.ActionRecover:
		msg := alerting.Recovery(entity, now, outcome.EpisodeDuration, outcome.DurationKnown)
		e.dispatch(ctx, models.HostKey(entity, "pattern"), msg)
		log.Info().
			Str("entity", entity).
			Dur("duration", outcome.EpisodeDuration).
			Bool("duration_known", outcome.DurationKnown).
			Msg("✅ Anomaly episode ended")
	}
	if outcome.Action != analyzer.ActionNone {
		engineTransitions.WithLabelValues(outcome.Action.String()).Inc()
	}

	e.mu.Lock()
	e.state = outcome.Next
	e.lastVerdict = &verdict
	e.lastSample = &sample
	e.ticks++
	e.lastTickAt = now
	e.mu.Unlock()
	e.setPhaseGauge()

	// Checkpoint a cada tick; falha de escrita é registrada e o loop continua
	if err := e.store.Save(storage.PersistedState{
		Hysteresis:    outcome.Next,
		WindowSummary: windows,
	}); err != nil {
		log.Error().Err(err).Str("path", e.store.Path()).Msg("Failed to save checkpoint")
	}

	if e.results != nil {
		if err := e.results.SaveSample(sample, verdict.Anomalous, outcome.Next.Phase); err != nil {
			log.Warn().Err(err).Msg("Failed to write sample to results database")
		}
	}

	engineTicks.WithLabelValues("evaluated").Inc()

	log.Debug().
		Str("entity", entity).
		Bool("anomalous", verdict.Anomalous).
		Str("phase", outcome.Next.Phase.String()).
		Str("action", outcome.Action.String()).
		Msg("Tick evaluated")

	return TickResult{
		Sample:  sample,
		Verdict: verdict,
		Action:  outcome.Action,
		Phase:   outcome.Next.Phase,
	}, nil
}

// checkFinite rejeita sample com métrica de decisão NaN ou infinita, que não
// serializa no checkpoint. Rede é informativa e volta para 0.
func checkFinite(sample *models.MetricSample) error {
	for _, m := range models.DetectorMetrics {
		v := sample.Value(m)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite %s value", monitor.ErrNoSample, m.Label())
		}
	}
	for _, v := range []*float64{&sample.NetInBytesPerSec, &sample.NetOutBytesPerSec} {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
		}
	}
	return nil
}

// dispatch entrega uma vez; falha conta como tentativa (sem retry síncrono)
func (e *Engine) dispatch(ctx context.Context, key models.AlertKey, msg notify.Message) {
	delivered := e.notifier.Deliver(ctx, msg)
	if !delivered {
		log.Warn().Str("key", string(key)).Str("title", msg.Title).Msg("Notification not delivered")
	}
	if e.recorder != nil {
		e.recorder.RecordDispatch(key, msg, delivered)
	}
}

// Start inicia o loop de ticks
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	log.Info().
		Str("entity", e.source.Entity()).
		Dur("interval", e.config.Interval).
		Msg("Starting detector engine")

	e.wg.Add(1)
	go e.loop(ctx)

	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Detector loop stopped (context cancelled)")
			return
		case <-ticker.C():
			e.runTick(ctx)
		}
	}
}

func (e *Engine) runTick(ctx context.Context) {
	if _, err := e.Tick(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("entity", e.source.Entity()).Msg("Tick skipped")
	}
}

// Stop para o loop e aguarda o tick em andamento
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	log.Info().Msg("Detector engine stopped")
}

// IsRunning retorna se o loop está ativo
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// State estado atual da histerese
func (e *Engine) State() models.HysteresisState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Status snapshot para API e dashboard
func (e *Engine) Status() Status {
	windows := e.history.Windows(e.detector.Config().WindowSize)

	e.mu.RLock()
	defer e.mu.RUnlock()

	return Status{
		Entity:       e.source.Entity(),
		Source:       e.source.Name(),
		Running:      e.running,
		Phase:        e.state.Phase.String(),
		EpisodeStart: e.state.EpisodeStart,
		LastVerdict:  e.lastVerdict,
		LastSample:   e.lastSample,
		Windows:      windows,
		Ticks:        e.ticks,
		SkippedTicks: e.skipped,
		LastTickAt:   e.lastTickAt,
	}
}

func (e *Engine) setPhaseGauge() {
	e.mu.RLock()
	inEpisode := e.state.Phase == models.PhaseAlerting
	e.mu.RUnlock()

	v := 0.0
	if inEpisode {
		v = 1
	}
	enginePhase.WithLabelValues(e.source.Entity()).Set(v)
}

func rulesToStrings(rules []models.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = string(r)
	}
	return out
}
