package notify

import (
	"context"
	"errors"

	"anomaly-watchdog/internal/monitoring/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notifier contrato mínimo de entrega. Falhas são registradas, nunca propagadas.
type Notifier interface {
	Send(ctx context.Context, severity models.AlertSeverity, title, body string) bool
}

// Message mensagem pronta para entrega
type Message struct {
	Severity models.AlertSeverity
	Title    string // assunto do e-mail
	Body     string // texto (Markdown do Telegram)

	// Email força o canal de e-mail mesmo abaixo de CRITICAL
	Email bool
}

// ErrRejected o canal recusou a mensagem (4xx, formatação inválida).
// Não conta como falha de transporte para o circuit breaker.
var ErrRejected = errors.New("message rejected by channel")

// Channel transporte concreto (Telegram, SMTP)
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchdog",
		Name:      "notifications_total",
		Help:      "Notification delivery attempts by channel and result.",
	}, []string{"channel", "result"})
)
