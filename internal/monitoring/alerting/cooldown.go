package alerting

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/notify"
	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	cooldownFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchdog",
		Subsystem: "cooldown",
		Name:      "fired_total",
		Help:      "Alerts dispatched by the cooldown manager.",
	})
	cooldownSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchdog",
		Subsystem: "cooldown",
		Name:      "suppressed_total",
		Help:      "Alerts suppressed by an active cooldown with an unchanged value.",
	})
)

// Deliverer entrega mensagens (implementado por notify.Dispatcher)
type Deliverer interface {
	Deliver(ctx context.Context, msg notify.Message) bool
}

// DispatchHook chamado após cada disparo com o resultado da entrega
type DispatchHook func(key models.AlertKey, msg notify.Message, delivered bool)

// Record estado de cooldown de uma chave
type Record struct {
	Key         models.AlertKey `json:"key"`
	LastFiredAt time.Time       `json:"last_fired_at"`
	LastValue   any             `json:"last_value"`
	Cooldown    time.Duration   `json:"cooldown"`
}

// ExpiresAt instante em que o cooldown deixa de suprimir valores iguais
func (r Record) ExpiresAt() time.Time {
	return r.LastFiredAt.Add(r.Cooldown)
}

// NetPair valor composto do alerta de tráfego (entrada, saída)
type NetPair struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

// Manager supressão por chave para alertas individuais.
// O mapa é compartilhado entre os workers do poller e protegido por mutex.
type Manager struct {
	mu      sync.Mutex
	records map[models.AlertKey]Record

	clock     clock.Clock
	deliverer Deliverer
	hook      DispatchHook
}

// NewManager cria gerenciador de cooldown
func NewManager(deliverer Deliverer, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Manager{
		records:   make(map[models.AlertKey]Record),
		clock:     clk,
		deliverer: deliverer,
	}
}

// OnDispatch registra hook chamado após cada entrega
func (m *Manager) OnDispatch(hook DispatchHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Fire entrega msg a menos que exista registro com now-last < cooldown e valor igual.
// Valor nil conta como inalterado. Retorna true se a mensagem foi despachada.
func (m *Manager) Fire(ctx context.Context, key models.AlertKey, msg notify.Message, cooldown time.Duration, value any) bool {
	now := m.clock.Now()

	m.mu.Lock()
	if rec, ok := m.records[key]; ok {
		if now.Sub(rec.LastFiredAt) < cooldown && sameValue(value, rec.LastValue) {
			m.mu.Unlock()
			cooldownSuppressed.Inc()
			log.Debug().
				Str("key", string(key)).
				Time("last_fired_at", rec.LastFiredAt).
				Dur("cooldown", cooldown).
				Msg("Alert suppressed by cooldown")
			return false
		}
	}
	// Registro atualizado antes da entrega: falha de envio também inicia o cooldown
	m.records[key] = Record{Key: key, LastFiredAt: now, LastValue: value, Cooldown: cooldown}
	hook := m.hook
	m.mu.Unlock()

	cooldownFired.Inc()
	log.Info().
		Str("key", string(key)).
		Interface("value", value).
		Dur("cooldown", cooldown).
		Bool("email", msg.Email).
		Msg("Alert fired")

	delivered := false
	if m.deliverer != nil {
		delivered = m.deliverer.Deliver(ctx, msg)
	}
	if hook != nil {
		hook(key, msg, delivered)
	}

	return true
}

// Clear remove o registro da chave (condição voltou ao normal).
// Retorna true se havia registro.
func (m *Manager) Clear(key models.AlertKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return false
	}
	delete(m.records, key)

	log.Debug().Str("key", string(key)).Msg("Alert cleared")
	return true
}

// Snapshot cópia dos registros ativos, ordenada por chave
func (m *Manager) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len quantidade de chaves com registro
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// sameValue valor atual nil conta como igual; compostos comparam campo a campo
func sameValue(current, last any) bool {
	if current == nil {
		return true
	}
	return reflect.DeepEqual(current, last)
}
