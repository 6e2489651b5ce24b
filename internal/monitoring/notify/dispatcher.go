package notify

import (
	"context"
	"errors"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/rs/zerolog/log"
)

// DefaultBreakerThreshold falhas consecutivas até abrir o circuito de um canal
const DefaultBreakerThreshold = 3

// DispatcherConfig configuração do dispatcher
type DispatcherConfig struct {
	BreakerThreshold int64
	// Prazo máximo de uma entrega por canal
	DeliveryTimeout time.Duration
}

type guardedChannel struct {
	channel Channel
	breaker *circuit.Breaker
	email   bool
}

// Dispatcher distribui mensagens entre os canais configurados.
// Chat sempre; e-mail para CRITICAL ou quando a mensagem pede.
type Dispatcher struct {
	config   DispatcherConfig
	channels []*guardedChannel
}

// NewDispatcher cria dispatcher. chat e email podem ser nil.
func NewDispatcher(config DispatcherConfig, chat Channel, email Channel) *Dispatcher {
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = DefaultBreakerThreshold
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 20 * time.Second
	}

	d := &Dispatcher{config: config}
	if chat != nil {
		d.channels = append(d.channels, &guardedChannel{
			channel: chat,
			breaker: circuit.NewConsecutiveBreaker(config.BreakerThreshold),
		})
	}
	if email != nil {
		d.channels = append(d.channels, &guardedChannel{
			channel: email,
			breaker: circuit.NewConsecutiveBreaker(config.BreakerThreshold),
			email:   true,
		})
	}

	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.channel.Name())
	}
	log.Info().
		Strs("channels", names).
		Int64("breaker_threshold", config.BreakerThreshold).
		Msg("Notification dispatcher initialized")

	return d
}

// Send implementa Notifier: e-mail apenas para CRITICAL
func (d *Dispatcher) Send(ctx context.Context, severity models.AlertSeverity, title, body string) bool {
	return d.Deliver(ctx, Message{
		Severity: severity,
		Title:    title,
		Body:     body,
		Email:    severity >= models.SeverityCritical,
	})
}

// Deliver entrega a mensagem. Retorna true se algum canal entregou.
// Nunca retenta: a próxima tentativa é o próximo evento.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) bool {
	delivered := false
	attempted := 0

	for _, c := range d.channels {
		if c.email && !msg.Email {
			continue
		}
		attempted++

		name := c.channel.Name()

		var rejected error
		err := c.breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
			defer cancel()
			err := c.channel.Deliver(callCtx, msg)
			if errors.Is(err, ErrRejected) {
				rejected = err
				return nil
			}
			return err
		}, 0)
		if err == nil && rejected != nil {
			err = rejected
		}

		switch {
		case errors.Is(err, ErrRejected):
			deliveriesTotal.WithLabelValues(name, "rejected").Inc()
			log.Error().
				Err(err).
				Str("channel", name).
				Str("title", msg.Title).
				Msg("Notification rejected by channel")
		case err == nil:
			delivered = true
			deliveriesTotal.WithLabelValues(name, "success").Inc()
			log.Info().
				Str("channel", name).
				Str("severity", msg.Severity.String()).
				Str("title", msg.Title).
				Msg("Notification delivered")
		case errors.Is(err, circuit.ErrBreakerOpen):
			deliveriesTotal.WithLabelValues(name, "circuit_open").Inc()
			log.Warn().
				Str("channel", name).
				Int64("consecutive_failures", c.breaker.ConsecFailures()).
				Str("title", msg.Title).
				Msg("Circuit open, skipping channel")
		default:
			deliveriesTotal.WithLabelValues(name, "failure").Inc()
			log.Error().
				Err(err).
				Str("channel", name).
				Str("title", msg.Title).
				Msg("Notification delivery failed")
		}
	}

	if attempted == 0 {
		log.Warn().Str("title", msg.Title).Msg("No notification channel configured")
	}

	return delivered
}

// Channels nomes dos canais configurados
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.channel.Name())
	}
	return names
}
