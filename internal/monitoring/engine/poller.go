package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/scanner"
	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	pollerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "watchdog",
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full multi-host polling cycle.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})
	pollerHosts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchdog",
		Subsystem: "poller",
		Name:      "hosts",
		Help:      "Hosts in the last cycle by state.",
	}, []string{"state"})
	pollerHostErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchdog",
		Subsystem: "poller",
		Name:      "host_errors_total",
		Help:      "Host collections that failed or exceeded their deadline.",
	})
)

// HostCollector coleta um host (collector.HostCollector)
type HostCollector interface {
	Collect(ctx context.Context, ip string) (models.HostMetrics, error)
	Prune(targets []string)
}

// TargetResolver alvos do ciclo (scanner.Discoverer)
type TargetResolver interface {
	Targets(ctx context.Context) ([]string, error)
}

// PollerDeps componentes do poller
type PollerDeps struct {
	Targets   TargetResolver
	Collector HostCollector
	Rules     *HostRuleSet
	Results   ResultsWriter // opcional
	Clock     clock.Clock
}

// CycleResult resumo de um ciclo
type CycleResult struct {
	Targets  int
	Online   int
	Offline  int
	Failed   int
	Rows     []models.HostMetrics
	Duration time.Duration
}

// Poller coleta todos os hosts a cada ciclo com um pool limitado de workers
type Poller struct {
	config    *scanner.PollConfig
	targets   TargetResolver
	collector HostCollector
	rules     *HostRuleSet
	results   ResultsWriter
	clock     clock.Clock

	mu        sync.RWMutex
	latest    map[string]models.HostMetrics
	lastCycle time.Time
	cycles    int64
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoller cria o poller multi-host
func NewPoller(config *scanner.PollConfig, deps PollerDeps) (*Poller, error) {
	if deps.Targets == nil || deps.Collector == nil || deps.Rules == nil {
		return nil, fmt.Errorf("poller requires targets, collector and rules")
	}
	if config.MaxWorkers < 1 {
		config.MaxWorkers = 1
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewClock()
	}

	log.Info().
		Str("mode", config.Mode().String()).
		Int("max_workers", config.MaxWorkers).
		Dur("interval", config.Interval).
		Msg("SNMP poller initialized")

	return &Poller{
		config:    config,
		targets:   deps.Targets,
		collector: deps.Collector,
		rules:     deps.Rules,
		results:   deps.Results,
		clock:     deps.Clock,
		latest:    make(map[string]models.HostMetrics),
	}, nil
}

// Cycle executa um ciclo completo. Cada host tem prazo próprio; um host lento
// ocupa apenas o seu worker.
func (p *Poller) Cycle(ctx context.Context) (CycleResult, error) {
	start := p.clock.Now()

	targets, err := p.targets.Targets(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("failed to resolve targets: %w", err)
	}
	p.collector.Prune(targets)

	rows := make([]*models.HostMetrics, len(targets))
	var failed, offline int
	var countMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.config.MaxWorkers)

	for i, ip := range targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			hctx, cancel := context.WithTimeout(ctx, p.config.HostTimeout)
			defer cancel()

			m, err := p.collector.Collect(hctx, ip)
			switch {
			case errors.Is(err, monitor.ErrHostOffline):
				p.rules.Offline(ctx, ip)
				countMu.Lock()
				offline++
				countMu.Unlock()

			case err != nil:
				if ctx.Err() != nil {
					return nil
				}
				// Coleta parcial é registrada como "off", sem alerta de offline
				log.Warn().Err(err).Str("ip", ip).Msg("Host collection failed")
				pollerHostErrors.Inc()
				m = models.OfflineHostMetrics(ip, p.clock.Now())
				countMu.Lock()
				failed++
				countMu.Unlock()

			default:
				p.rules.Evaluate(ctx, m)
			}

			rows[i] = &m
			return nil
		})
	}
	_ = g.Wait()

	result := CycleResult{
		Targets: len(targets),
		Offline: offline,
		Failed:  failed,
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		result.Rows = append(result.Rows, *row)
		if row.State == models.HostOn {
			result.Online++
		}
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("cycle interrupted: %w", err)
	}

	if p.results != nil && len(result.Rows) > 0 {
		if err := p.results.SaveHostMetrics(result.Rows); err != nil {
			log.Warn().Err(err).Msg("Failed to write host rows to results database")
		}
	}

	now := p.clock.Now()
	result.Duration = now.Sub(start)

	p.mu.Lock()
	p.latest = make(map[string]models.HostMetrics, len(result.Rows))
	for _, row := range result.Rows {
		p.latest[row.IP] = row
	}
	p.lastCycle = now
	p.cycles++
	p.mu.Unlock()

	pollerCycleDuration.Observe(result.Duration.Seconds())
	pollerHosts.WithLabelValues("on").Set(float64(result.Online))
	pollerHosts.WithLabelValues("off").Set(float64(len(result.Rows) - result.Online))

	log.Info().
		Int("targets", result.Targets).
		Int("online", result.Online).
		Int("offline", result.Offline).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Polling cycle complete")

	return result, nil
}

// Start inicia o loop de ciclos
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)

	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller loop stopped (context cancelled)")
			return
		case <-ticker.C():
			p.runCycle(ctx)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	if _, err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Polling cycle failed")
	}
}

// Stop para o loop e aguarda o ciclo em andamento
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	log.Info().Msg("SNMP poller stopped")
}

// Latest últimas linhas por host, ordenadas por IP
func (p *Poller) Latest() []models.HostMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rows := make([]models.HostMetrics, 0, len(p.latest))
	for _, row := range p.latest {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].IP < rows[j].IP })
	return rows
}

// LastCycle instante do último ciclo completo e total de ciclos
func (p *Poller) LastCycle() (time.Time, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCycle, p.cycles
}
