package collector

import (
	"context"
	"fmt"
	"sync"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// HostReader leituras SNMP de um host (implementado por monitor.SNMPClient)
type HostReader interface {
	IP() string
	IsUp(ctx context.Context) bool
	Resolve(ctx context.Context)
	Network(ctx context.Context) (monitor.NetworkStats, error)
	Memory(ctx context.Context) (monitor.MemoryStats, error)
	System(ctx context.Context) (monitor.SystemStats, error)
	MAC(ctx context.Context) string
}

// ReaderFactory cria o leitor de um IP
type ReaderFactory func(ip string) HostReader

// HostCollector coleta um HostMetrics por host.
// Mantém um leitor por IP para reaproveitar índices resolvidos e o cache SNMP.
type HostCollector struct {
	factory ReaderFactory
	clock   clock.Clock

	mu      sync.Mutex
	readers map[string]HostReader
}

// NewHostCollector cria coletor SNMP
func NewHostCollector(config monitor.SNMPConfig, clk clock.Clock) *HostCollector {
	factory := func(ip string) HostReader {
		return monitor.NewSNMPClient(ip, config, clk)
	}
	return NewHostCollectorWithFactory(factory, clk)
}

// NewHostCollectorWithFactory cria coletor com leitores customizados
func NewHostCollectorWithFactory(factory ReaderFactory, clk clock.Clock) *HostCollector {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &HostCollector{
		factory: factory,
		clock:   clk,
		readers: make(map[string]HostReader),
	}
}

func (c *HostCollector) reader(ip string) HostReader {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.readers[ip]
	if !ok {
		r = c.factory(ip)
		c.readers[ip] = r
	}
	return r
}

// Prune descarta leitores de hosts que saíram da lista de alvos
func (c *HostCollector) Prune(targets []string) {
	keep := make(map[string]struct{}, len(targets))
	for _, ip := range targets {
		keep[ip] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ip := range c.readers {
		if _, ok := keep[ip]; !ok {
			delete(c.readers, ip)
		}
	}
}

// Collect coleta um host. Host sem resposta retorna a linha "off" junto com
// monitor.ErrHostOffline. Rede, memória e sistema são lidos em paralelo.
func (c *HostCollector) Collect(ctx context.Context, ip string) (models.HostMetrics, error) {
	r := c.reader(ip)
	ts := c.clock.Now()

	if !r.IsUp(ctx) {
		if err := ctx.Err(); err != nil {
			return models.HostMetrics{}, fmt.Errorf("failed to probe %s: %w", ip, err)
		}
		log.Warn().Str("ip", ip).Msg("Host offline")
		return models.OfflineHostMetrics(ip, ts), monitor.ErrHostOffline
	}

	r.Resolve(ctx)

	var (
		network monitor.NetworkStats
		memory  monitor.MemoryStats
		system  monitor.SystemStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		network, err = r.Network(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		memory, err = r.Memory(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		system, err = r.System(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return models.HostMetrics{}, fmt.Errorf("failed to collect %s: %w", ip, err)
	}

	metrics := models.HostMetrics{
		Timestamp:     ts,
		State:         models.HostOn,
		IP:            ip,
		MAC:           r.MAC(ctx),
		TotalRAMMB:    memory.TotalMB,
		UsedRAMMB:     memory.UsedMB,
		LinkSpeedMbps: network.LinkSpeedMbps,
		NetInMbps:     network.InMbps,
		NetOutMbps:    network.OutMbps,
		CPUPercent:    system.CPUPercent,
		UptimeSeconds: system.UptimeSeconds,
		DiskUsedMB:    system.DiskUsedMB,
		DiskTotalMB:   system.DiskTotalMB,
	}

	log.Debug().
		Str("ip", ip).
		Str("mac", metrics.MAC).
		Float64("cpu", metrics.CPUPercent).
		Float64("ram_percent", metrics.RAMPercent()).
		Float64("disk_percent", metrics.DiskPercent()).
		Float64("net_in_mbps", metrics.NetInMbps).
		Float64("net_out_mbps", metrics.NetOutMbps).
		Msg("Host collected")

	return metrics, nil
}
