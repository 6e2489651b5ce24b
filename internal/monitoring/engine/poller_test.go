package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/scanner"
	"code.cloudfoundry.org/clock/fakeclock"
	"go.uber.org/goleak"
)

type staticTargets []string

func (s staticTargets) Targets(ctx context.Context) ([]string, error) { return s, nil }

type fakeCollector struct {
	delay   time.Duration
	offline map[string]bool
	failing map[string]bool
	hang    map[string]bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu     sync.Mutex
	pruned []string
}

func (c *fakeCollector) Prune(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruned = append([]string(nil), targets...)
}

func (c *fakeCollector) Collect(ctx context.Context, ip string) (models.HostMetrics, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxInFlight.Load()
		if n <= max || c.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	if c.hang[ip] {
		<-ctx.Done()
		return models.HostMetrics{}, ctx.Err()
	}

	select {
	case <-ctx.Done():
		return models.HostMetrics{}, ctx.Err()
	case <-time.After(c.delay):
	}

	switch {
	case c.offline[ip]:
		return models.OfflineHostMetrics(ip, wednesday), monitor.ErrHostOffline
	case c.failing[ip]:
		return models.HostMetrics{}, errors.New("snmp walk failed")
	}
	return healthyHost(ip), nil
}

type rowSink struct {
	mu   sync.Mutex
	rows [][]models.HostMetrics
}

func (s *rowSink) SaveSample(models.MetricSample, bool, models.Phase) error { return nil }

func (s *rowSink) SaveHostMetrics(rows []models.HostMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows)
	return nil
}

func hosts(n int) staticTargets {
	out := make(staticTargets, n)
	for i := range out {
		out[i] = fmt.Sprintf("10.0.0.%d", i+1)
	}
	return out
}

func newTestPoller(t *testing.T, targets TargetResolver, collector HostCollector, sink ResultsWriter) (*Poller, *recordingDeliverer) {
	t.Helper()

	clk := fakeclock.NewFakeClock(wednesday)
	deliverer := &recordingDeliverer{}
	manager := alerting.NewManager(deliverer, clk)
	rules := NewHostRuleSet(scanner.DefaultHostRules(), manager, trustedSet{"aa:bb:cc:dd:ee:01": true}, "Trust_Devices.txt", clk)

	config := scanner.DefaultPollConfig()
	config.MaxWorkers = 3
	config.HostTimeout = 200 * time.Millisecond

	p, err := NewPoller(config, PollerDeps{
		Targets:   targets,
		Collector: collector,
		Rules:     rules,
		Results:   sink,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("Falha ao criar poller: %v", err)
	}
	return p, deliverer
}

func TestPollerBoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	collector := &fakeCollector{delay: 10 * time.Millisecond}
	sink := &rowSink{}
	p, _ := newTestPoller(t, hosts(12), collector, sink)

	result, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle falhou: %v", err)
	}

	if got := collector.maxInFlight.Load(); got > 3 || got < 1 {
		t.Errorf("Esperado no máximo 3 coletas simultâneas, obteve %d", got)
	}
	if result.Targets != 12 || result.Online != 12 || len(result.Rows) != 12 {
		t.Errorf("Resultado inesperado: %+v", result)
	}
	if len(sink.rows) != 1 || len(sink.rows[0]) != 12 {
		t.Errorf("Esperado um lote de 12 linhas gravado")
	}
	if len(collector.pruned) != 12 {
		t.Errorf("Prune deveria receber a lista de alvos do ciclo")
	}

	latest := p.Latest()
	if len(latest) != 12 || latest[0].IP != "10.0.0.1" {
		t.Errorf("Latest inesperado: %d linhas", len(latest))
	}
	if _, cycles := p.LastCycle(); cycles != 1 {
		t.Errorf("Esperado 1 ciclo, obteve %d", cycles)
	}
}

func TestPollerOfflineAndFailedHosts(t *testing.T) {
	defer goleak.VerifyNone(t)

	collector := &fakeCollector{
		offline: map[string]bool{"10.0.0.2": true},
		failing: map[string]bool{"10.0.0.3": true},
	}
	sink := &rowSink{}
	p, deliverer := newTestPoller(t, hosts(4), collector, sink)

	result, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.Online != 2 || result.Offline != 1 || result.Failed != 1 {
		t.Errorf("Contagens inesperadas: %+v", result)
	}
	if len(result.Rows) != 4 {
		t.Fatalf("Todo host deveria gerar uma linha, obteve %d", len(result.Rows))
	}
	for _, row := range result.Rows {
		if (row.IP == "10.0.0.2" || row.IP == "10.0.0.3") && row.State != models.HostOff {
			t.Errorf("%s deveria estar off", row.IP)
		}
	}

	// Apenas o host sem resposta gera alerta de offline
	msgs := deliverer.messages()
	if len(msgs) != 1 {
		t.Errorf("Esperado 1 alerta de offline, obteve %d", len(msgs))
	}
}

func TestPollerSlowHostOnlyHoldsItsWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	collector := &fakeCollector{hang: map[string]bool{"10.0.0.1": true}}
	p, _ := newTestPoller(t, hosts(6), collector, &rowSink{})

	start := time.Now()
	result, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Host travado não deveria segurar o ciclo além do prazo, levou %v", elapsed)
	}
	if result.Online != 5 || result.Failed != 1 {
		t.Errorf("Esperado 5 online e 1 falha por prazo: %+v", result)
	}
}

func TestPollerCancelledCycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	collector := &fakeCollector{delay: time.Second}
	sink := &rowSink{}
	p, deliverer := newTestPoller(t, hosts(6), collector, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Cycle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Esperado ciclo interrompido, obteve %v", err)
	}
	if len(sink.rows) != 0 {
		t.Error("Ciclo interrompido não deveria gravar linhas")
	}
	if len(deliverer.messages()) != 0 {
		t.Error("Ciclo interrompido não deveria alertar")
	}
}

func TestPollerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	p, _ := newTestPoller(t, hosts(2), &fakeCollector{}, &rowSink{})

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("Esperado erro ao iniciar duas vezes")
	}
	p.Stop()
	p.Stop()
}
