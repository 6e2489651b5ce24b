package scanner

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/notify"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prober testa se um IP responde SNMP
type Prober interface {
	Probe(ctx context.Context, ip string) bool
}

// ProberFunc adapta função para Prober
type ProberFunc func(ctx context.Context, ip string) bool

// Probe implementa Prober
func (f ProberFunc) Probe(ctx context.Context, ip string) bool {
	return f(ctx, ip)
}

// SNMPProber sysDescr com timeout curto e sem retries
func SNMPProber(config monitor.SNMPConfig, timeout time.Duration) Prober {
	return ProberFunc(func(ctx context.Context, ip string) bool {
		return monitor.NewSNMPClient(ip, config, nil).Probe(ctx, timeout, 0)
	})
}

// Alerter disparo e limpeza de alertas com cooldown (alerting.Manager)
type Alerter interface {
	Fire(ctx context.Context, key models.AlertKey, msg notify.Message, cooldown time.Duration, value any) bool
	Clear(key models.AlertKey) bool
}

// PrefixSize número de endereços do prefixo IPv4
func PrefixSize(prefix netip.Prefix) int {
	if !prefix.Addr().Is4() {
		return 1 << 30
	}
	return 1 << (32 - prefix.Bits())
}

// EnumerateSubnet lista os endereços de host da subnet IPv4.
// Endereços de rede e broadcast ficam de fora (exceto /31 e /32).
func EnumerateSubnet(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subnet %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("only IPv4 subnets are supported: %s", cidr)
	}
	prefix = prefix.Masked()

	size := PrefixSize(prefix)
	hosts := make([]string, 0, size)

	addr := prefix.Addr()
	for i := 0; i < size; i++ {
		skip := prefix.Bits() < 31 && (i == 0 || i == size-1)
		if !skip {
			hosts = append(hosts, addr.String())
		}
		addr = addr.Next()
	}

	return hosts, nil
}

// Discoverer resolve os alvos de cada ciclo do poller
type Discoverer struct {
	config *PollConfig
	prober Prober
	alerts Alerter
	clock  clock.Clock
}

// NewDiscoverer cria o descobridor de hosts
func NewDiscoverer(config *PollConfig, prober Prober, alerts Alerter, clk clock.Clock) *Discoverer {
	if prober == nil {
		prober = SNMPProber(config.SNMP, config.DiscoveryTimeout)
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Discoverer{
		config: config,
		prober: prober,
		alerts: alerts,
		clock:  clk,
	}
}

// Targets hosts do ciclo: lista fixa ou varredura da subnet
func (d *Discoverer) Targets(ctx context.Context) ([]string, error) {
	if d.config.Mode() == TargetModeStatic {
		return append([]string(nil), d.config.Hosts...), nil
	}
	return d.Discover(ctx)
}

// Discover varre a subnet em paralelo e mantém a ordem dos endereços.
// Nenhum host respondendo dispara o alerta de subnet vazia; caso contrário ele é limpo.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	subnet := d.config.Subnet
	candidates, err := EnumerateSubnet(subnet)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("subnet", subnet).
		Int("candidates", len(candidates)).
		Msg("Scanning subnet for SNMP hosts")

	found := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.DiscoveryWorkers)

	for i, ip := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			found[i] = d.prober.Probe(gctx, ip)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to scan subnet %s: %w", subnet, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan subnet %s: %w", subnet, err)
	}

	var reachable []string
	for i, ok := range found {
		if ok {
			reachable = append(reachable, candidates[i])
			log.Debug().Str("ip", candidates[i]).Msg("SNMP host found")
		}
	}

	key := models.SubnetNoHostKey(subnet)
	if d.alerts != nil {
		if len(reachable) == 0 {
			d.alerts.Fire(ctx, key, alerting.SubnetNoHost(subnet, d.clock.Now()), d.config.Rules.NoHostCooldown, nil)
		} else {
			d.alerts.Clear(key)
		}
	}

	log.Info().
		Str("subnet", subnet).
		Int("found", len(reachable)).
		Msg("Subnet scan complete")

	return reachable, nil
}
