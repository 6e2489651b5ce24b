package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// hostStats leituras brutas do sistema operacional
type hostStats interface {
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	Connections(ctx context.Context) (int, error)
	IOCounters(ctx context.Context) (recv uint64, sent uint64, err error)
}

// gopsutilStats implementação real via gopsutil
type gopsutilStats struct{}

func (gopsutilStats) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu percent returned no values")
	}
	return percents[0], nil
}

func (gopsutilStats) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (gopsutilStats) Connections(ctx context.Context) (int, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return 0, err
	}
	return len(conns), nil
}

func (gopsutilStats) IOCounters(ctx context.Context) (uint64, uint64, error) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(stats) == 0 {
		return 0, 0, fmt.Errorf("io counters returned no values")
	}
	return stats[0].BytesRecv, stats[0].BytesSent, nil
}

// LocalConfig configuração da coleta local
type LocalConfig struct {
	// Janela de amostragem da CPU (bloqueia a coleta por esse tempo)
	CPUInterval time.Duration
	// Identificador da entidade; vazio = MAC da primeira interface
	Entity string
}

// LocalSource coleta CPU, memória e conexões da máquina local
type LocalSource struct {
	config LocalConfig
	stats  hostStats
	clock  clock.Clock
	entity string

	mu        sync.Mutex
	lastCheck time.Time
	lastRecv  uint64
	lastSent  uint64
}

// NewLocalSource cria fonte local baseada em gopsutil
func NewLocalSource(config LocalConfig, clk clock.Clock) *LocalSource {
	return newLocalSource(config, gopsutilStats{}, clk)
}

func newLocalSource(config LocalConfig, stats hostStats, clk clock.Clock) *LocalSource {
	if config.CPUInterval <= 0 {
		config.CPUInterval = time.Second
	}
	if clk == nil {
		clk = clock.NewClock()
	}

	entity := config.Entity
	if entity == "" {
		entity = detectEntity()
	}

	log.Info().
		Str("entity", entity).
		Dur("cpu_interval", config.CPUInterval).
		Msg("Local sample source initialized")

	return &LocalSource{
		config: config,
		stats:  stats,
		clock:  clk,
		entity: entity,
	}
}

// detectEntity MAC da primeira interface com endereço físico, senão hostname
func detectEntity() string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if ifaces, err := psnet.InterfacesWithContext(ctx); err == nil {
		for _, iface := range ifaces {
			if iface.HardwareAddr == "" || isLoopback(iface.Flags) {
				continue
			}
			return iface.HardwareAddr
		}
	}

	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}

	return "Unknown"
}

func isLoopback(flags []string) bool {
	for _, f := range flags {
		if f == "loopback" {
			return true
		}
	}
	return false
}

// Name nome da fonte
func (s *LocalSource) Name() string {
	return "local"
}

// Entity identificador do host monitorado
func (s *LocalSource) Entity() string {
	return s.entity
}

// Collect lê as métricas atuais. Bytes/s são calculados contra a leitura anterior;
// a primeira leitura reporta 0.
func (s *LocalSource) Collect(ctx context.Context) (models.MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpuPercent, err := s.stats.CPUPercent(ctx, s.config.CPUInterval)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("%w: failed to read cpu: %v", ErrNoSample, err)
	}

	memPercent, err := s.stats.MemoryPercent(ctx)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("%w: failed to read memory: %v", ErrNoSample, err)
	}

	conns, err := s.stats.Connections(ctx)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("%w: failed to read connections: %v", ErrNoSample, err)
	}

	recv, sent, err := s.stats.IOCounters(ctx)
	if err != nil {
		return models.MetricSample{}, fmt.Errorf("%w: failed to read io counters: %v", ErrNoSample, err)
	}

	now := s.clock.Now()
	sample := models.MetricSample{
		Timestamp:       now,
		Entity:          s.entity,
		CPUPercent:      cpuPercent,
		MemoryPercent:   memPercent,
		ConnectionCount: float64(conns),
	}

	if !s.lastCheck.IsZero() {
		if elapsed := now.Sub(s.lastCheck).Seconds(); elapsed > 0 {
			sample.NetInBytesPerSec = counterRate(s.lastRecv, recv, elapsed)
			sample.NetOutBytesPerSec = counterRate(s.lastSent, sent, elapsed)
		}
	}

	s.lastCheck = now
	s.lastRecv = recv
	s.lastSent = sent

	log.Debug().
		Str("entity", s.entity).
		Float64("cpu", sample.CPUPercent).
		Float64("memory", sample.MemoryPercent).
		Float64("connections", sample.ConnectionCount).
		Msg("Local sample collected")

	return sample, nil
}

// counterRate taxa por segundo; contador que voltou (reset/overflow) conta como 0
func counterRate(prev, cur uint64, seconds float64) float64 {
	if cur < prev || seconds <= 0 {
		return 0
	}
	return float64(cur-prev) / seconds
}
