package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"anomaly-watchdog/internal/monitoring/analyzer"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/notify"
	"anomaly-watchdog/internal/monitoring/storage"
	"code.cloudfoundry.org/clock/fakeclock"
)

// scriptedSource devolve um CPU por tick; valores negativos simulam falha
type scriptedSource struct {
	mu    sync.Mutex
	clock *fakeclock.FakeClock
	cpu   []float64
	mem   []float64
	next  int
	block bool
}

func (s *scriptedSource) Name() string   { return "scripted" }
func (s *scriptedSource) Entity() string { return "web-01" }

func (s *scriptedSource) Collect(ctx context.Context) (models.MetricSample, error) {
	if s.block {
		<-ctx.Done()
		return models.MetricSample{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.cpu) {
		return models.MetricSample{}, monitor.ErrNoSample
	}
	v := s.cpu[s.next]
	mem := 40.0
	if s.next < len(s.mem) {
		mem = s.mem[s.next]
	}
	s.next++
	if v < 0 {
		return models.MetricSample{}, monitor.ErrNoSample
	}
	return models.MetricSample{
		Timestamp:       s.clock.Now(),
		Entity:          "web-01",
		CPUPercent:      v,
		MemoryPercent:   mem,
		ConnectionCount: 120,
	}, nil
}

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail bool
}

func (d *recordingDeliverer) Deliver(ctx context.Context, msg notify.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return !d.fail
}

func (d *recordingDeliverer) messages() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Message(nil), d.msgs...)
}

type recordingResults struct {
	mu      sync.Mutex
	samples []models.MetricSample
	phases  []models.Phase
}

func (r *recordingResults) SaveSample(sample models.MetricSample, anomalous bool, phase models.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	r.phases = append(r.phases, phase)
	return nil
}

func (r *recordingResults) SaveHostMetrics(rows []models.HostMetrics) error { return nil }

type recordingRecorder struct {
	keys      []models.AlertKey
	delivered []bool
}

func (r *recordingRecorder) RecordDispatch(key models.AlertKey, msg notify.Message, delivered bool) {
	r.keys = append(r.keys, key)
	r.delivered = append(r.delivered, delivered)
}

// Quarta-feira: regra de fim de semana nunca dispara
var wednesday = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	engine    *Engine
	source    *scriptedSource
	deliverer *recordingDeliverer
	results   *recordingResults
	recorder  *recordingRecorder
	store     *storage.StateStore
	clock     *fakeclock.FakeClock
}

func newHarness(t *testing.T, mode analyzer.SustainedMode, cpu []float64, storePath string) *harness {
	t.Helper()

	clk := fakeclock.NewFakeClock(wednesday)
	if storePath == "" {
		storePath = filepath.Join(t.TempDir(), "checkpoint.json")
	}

	detectorConfig := analyzer.DefaultDetectorConfig()
	detectorConfig.SustainedMode = mode

	h := &harness{
		source:    &scriptedSource{clock: clk, cpu: cpu},
		deliverer: &recordingDeliverer{},
		results:   &recordingResults{},
		recorder:  &recordingRecorder{},
		store:     storage.NewStateStore(storePath, clk),
		clock:     clk,
	}

	e, err := New(Config{Interval: 30 * time.Second, TickTimeout: time.Second}, Deps{
		Source:   h.source,
		Detector: analyzer.NewDetector(detectorConfig),
		Store:    h.store,
		Notifier: h.deliverer,
		Results:  h.results,
		Recorder: h.recorder,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("Falha ao criar engine: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) tick(t *testing.T) (TickResult, error) {
	t.Helper()
	res, err := h.engine.Tick(context.Background())
	h.clock.Increment(30 * time.Second)
	return res, err
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Error("Esperado erro sem dependências")
	}
}

func TestTickAlertThenRecovery(t *testing.T) {
	h := newHarness(t, analyzer.SustainedTrailing, []float64{71, 72, 73, 74, 75, 68}, "")

	var results []TickResult
	for i := 0; i < 6; i++ {
		res, err := h.tick(t)
		if err != nil {
			t.Fatalf("tick %d falhou: %v", i, err)
		}
		results = append(results, res)
	}

	for i := 0; i < 4; i++ {
		if results[i].Action != analyzer.ActionNone {
			t.Errorf("tick %d: esperado nenhuma ação, obteve %s", i, results[i].Action)
		}
	}
	if results[4].Action != analyzer.ActionAlert || results[4].Phase != models.PhaseAlerting {
		t.Fatalf("Esperado alerta no quinto tick, obteve %s/%s", results[4].Action, results[4].Phase)
	}
	if results[5].Action != analyzer.ActionRecover || results[5].Phase != models.PhaseNormal {
		t.Fatalf("Esperado recuperação no sexto tick, obteve %s/%s", results[5].Action, results[5].Phase)
	}

	msgs := h.deliverer.messages()
	if len(msgs) != 2 {
		t.Fatalf("Esperado 2 mensagens, obteve %d", len(msgs))
	}
	if msgs[0].Severity != models.SeverityCritical || !msgs[0].Email {
		t.Errorf("Alerta deveria ser CRITICAL com e-mail: %+v", msgs[0])
	}
	if msgs[1].Severity != models.SeverityInfo {
		t.Errorf("Recuperação deveria ser INFO, obteve %s", msgs[1].Severity)
	}

	if len(h.recorder.keys) != 2 || h.recorder.keys[0] != models.HostKey("web-01", "pattern") {
		t.Errorf("Histórico de disparos inesperado: %v", h.recorder.keys)
	}
	if len(h.results.samples) != 6 {
		t.Errorf("Esperado 6 samples gravados, obteve %d", len(h.results.samples))
	}

	status := h.engine.Status()
	if status.Ticks != 6 || status.Phase != "NORMAL" || status.Entity != "web-01" {
		t.Errorf("Status inesperado: %+v", status)
	}
}

func TestTickSkipsOnCollectError(t *testing.T) {
	h := newHarness(t, analyzer.SustainedTrailing, []float64{71, 72, -1, 73, 74, 75}, "")

	skipped := 0
	var last TickResult
	for i := 0; i < 6; i++ {
		res, err := h.tick(t)
		if err != nil {
			if !errors.Is(err, monitor.ErrNoSample) || !res.Skipped {
				t.Fatalf("tick %d: erro inesperado %v", i, err)
			}
			skipped++
			continue
		}
		last = res
	}

	if skipped != 1 {
		t.Errorf("Esperado 1 tick pulado, obteve %d", skipped)
	}
	// Falha não quebra a sequência: 71 72 73 74 75 continuam consecutivos no histórico
	if last.Action != analyzer.ActionAlert {
		t.Errorf("Esperado alerta após 5 leituras válidas, obteve %s", last.Action)
	}
	if got := len(h.results.samples); got != 5 {
		t.Errorf("Tick pulado não deveria gravar sample, obteve %d", got)
	}
	if status := h.engine.Status(); status.SkippedTicks != 1 {
		t.Errorf("Esperado SkippedTicks=1, obteve %d", status.SkippedTicks)
	}
}

func TestTickSkipsNonFiniteSample(t *testing.T) {
	h := newHarness(t, analyzer.SustainedTrailing, []float64{90, 90, 90, 90, 90, 90}, "")
	h.source.mem = []float64{40, 40, 40, 40, math.NaN(), 40}

	skipped := 0
	var last TickResult
	for i := 0; i < 6; i++ {
		res, err := h.tick(t)
		if err != nil {
			if !errors.Is(err, monitor.ErrNoSample) || !res.Skipped {
				t.Fatalf("tick %d: erro inesperado %v", i, err)
			}
			skipped++
			continue
		}
		last = res
	}

	if skipped != 1 {
		t.Errorf("Esperado 1 tick pulado pelo NaN, obteve %d", skipped)
	}
	if last.Action != analyzer.ActionAlert {
		t.Errorf("Esperado alerta após 5 leituras válidas, obteve %s", last.Action)
	}

	// Checkpoint acompanha a fase do engine
	persisted, err := h.store.Inspect()
	if err != nil {
		t.Fatalf("Falha ao ler checkpoint: %v", err)
	}
	if persisted.Hysteresis.Phase != models.PhaseAlerting {
		t.Errorf("Esperado checkpoint ALERTING, obteve %s", persisted.Hysteresis.Phase)
	}
	for _, v := range persisted.WindowSummary[models.MetricMemory] {
		if math.IsNaN(v) {
			t.Fatal("Valor NaN não deveria entrar no histórico")
		}
	}
	if got := len(h.results.samples); got != 5 {
		t.Errorf("Esperado 5 samples gravados, obteve %d", got)
	}
}

func TestCheckFiniteZeroesNetwork(t *testing.T) {
	sample := models.MetricSample{CPUPercent: 10, NetInBytesPerSec: math.Inf(1), NetOutBytesPerSec: math.NaN()}
	if err := checkFinite(&sample); err != nil {
		t.Fatalf("Rede não finita não deveria descartar o sample: %v", err)
	}
	if sample.NetInBytesPerSec != 0 || sample.NetOutBytesPerSec != 0 {
		t.Errorf("Esperado rede zerada, obteve %+v", sample)
	}

	sample.ConnectionCount = math.Inf(-1)
	if err := checkFinite(&sample); !errors.Is(err, monitor.ErrNoSample) {
		t.Errorf("Esperado ErrNoSample para conexões infinitas, obteve %v", err)
	}
}

func TestTickAbandonedOnDeadline(t *testing.T) {
	h := newHarness(t, analyzer.SustainedAnywhere, nil, "")
	h.source.block = true
	h.engine.config.TickTimeout = 20 * time.Millisecond

	res, err := h.engine.Tick(context.Background())
	if err == nil || !res.Skipped {
		t.Fatalf("Esperado tick abandonado, obteve %+v / %v", res, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Esperado DeadlineExceeded, obteve %v", err)
	}
	if _, statErr := h.store.Inspect(); statErr == nil {
		t.Error("Tick abandonado não deveria gravar checkpoint")
	}
}

func TestRestartDoesNotRealert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	first := newHarness(t, analyzer.SustainedTrailing, []float64{71, 72, 73, 74, 75}, path)
	for i := 0; i < 5; i++ {
		if _, err := first.tick(t); err != nil {
			t.Fatal(err)
		}
	}
	if first.engine.State().Phase != models.PhaseAlerting {
		t.Fatalf("Esperado ALERTING antes do restart")
	}

	// Novo processo: checkpoint restaura fase e janelas
	second := newHarness(t, analyzer.SustainedTrailing, []float64{76, 77}, path)
	if second.engine.State().Phase != models.PhaseAlerting {
		t.Fatalf("Esperado ALERTING restaurado, obteve %s", second.engine.State().Phase)
	}
	if second.engine.State().EpisodeStart == nil {
		t.Error("Início do episódio deveria ser restaurado")
	}

	for i := 0; i < 2; i++ {
		res, err := second.tick(t)
		if err != nil {
			t.Fatal(err)
		}
		if res.Action != analyzer.ActionNone {
			t.Errorf("tick %d após restart: esperado nenhuma ação, obteve %s", i, res.Action)
		}
	}
	if n := len(second.deliverer.messages()); n != 0 {
		t.Errorf("Restart não deveria realertar, obteve %d mensagens", n)
	}
}

func TestFailedDeliveryStillTransitions(t *testing.T) {
	h := newHarness(t, analyzer.SustainedTrailing, []float64{71, 72, 73, 74, 75, 76}, "")
	h.deliverer.fail = true

	for i := 0; i < 6; i++ {
		if _, err := h.tick(t); err != nil {
			t.Fatal(err)
		}
	}

	if h.engine.State().Phase != models.PhaseAlerting {
		t.Error("Falha de entrega não deveria impedir a transição")
	}
	if n := len(h.deliverer.messages()); n != 1 {
		t.Errorf("Esperado uma tentativa de entrega sem retry, obteve %d", n)
	}
	if len(h.recorder.delivered) != 1 || h.recorder.delivered[0] {
		t.Errorf("Histórico deveria registrar entrega falha: %v", h.recorder.delivered)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, analyzer.SustainedAnywhere, []float64{10, 10, 10}, "")

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Falha ao iniciar: %v", err)
	}
	if err := h.engine.Start(context.Background()); err == nil {
		t.Error("Esperado erro ao iniciar duas vezes")
	}
	if !h.engine.IsRunning() {
		t.Error("Engine deveria estar rodando")
	}

	h.engine.Stop()
	if h.engine.IsRunning() {
		t.Error("Engine deveria estar parado")
	}
	// Stop idempotente
	h.engine.Stop()
}
