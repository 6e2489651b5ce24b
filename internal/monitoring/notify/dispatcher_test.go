package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"anomaly-watchdog/internal/monitoring/models"
	"github.com/stretchr/testify/assert"
)

type fakeChannel struct {
	name string
	err  error

	mu       sync.Mutex
	messages []Message
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestDispatcherRoutesEmailBySeverity(t *testing.T) {
	chat := &fakeChannel{name: "chat"}
	mail := &fakeChannel{name: "mail"}
	d := NewDispatcher(DispatcherConfig{}, chat, mail)

	assert.True(t, d.Send(context.Background(), models.SeverityWarning, "t", "b"))
	assert.Equal(t, 1, chat.count())
	assert.Equal(t, 0, mail.count(), "warning must not go to email")

	assert.True(t, d.Send(context.Background(), models.SeverityCritical, "t", "b"))
	assert.Equal(t, 2, chat.count())
	assert.Equal(t, 1, mail.count())

	// E-mail explícito abaixo de CRITICAL
	assert.True(t, d.Deliver(context.Background(), Message{Severity: models.SeverityInfo, Email: true}))
	assert.Equal(t, 2, mail.count())
}

func TestDispatcherAnyChannelSucceeds(t *testing.T) {
	chat := &fakeChannel{name: "chat", err: errors.New("boom")}
	mail := &fakeChannel{name: "mail"}
	d := NewDispatcher(DispatcherConfig{}, chat, mail)

	assert.True(t, d.Deliver(context.Background(), Message{Email: true}))
	assert.False(t, d.Deliver(context.Background(), Message{Email: false}))
}

func TestDispatcherNoChannels(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil, nil)
	assert.False(t, d.Send(context.Background(), models.SeverityCritical, "t", "b"))
	assert.Empty(t, d.Channels())
}

func TestDispatcherCircuitOpensAfterFailures(t *testing.T) {
	chat := &fakeChannel{name: "chat", err: errors.New("unreachable")}
	d := NewDispatcher(DispatcherConfig{BreakerThreshold: 2}, chat, nil)

	for i := 0; i < 5; i++ {
		assert.False(t, d.Send(context.Background(), models.SeverityWarning, "t", "b"))
	}

	// Após 2 falhas consecutivas o canal deixa de ser chamado
	assert.Equal(t, 2, chat.count())
}

func TestDispatcherRejectionsKeepCircuitClosed(t *testing.T) {
	chat := &fakeChannel{name: "chat", err: fmt.Errorf("%w: can't parse entities", ErrRejected)}
	d := NewDispatcher(DispatcherConfig{BreakerThreshold: 2}, chat, nil)

	for i := 0; i < 4; i++ {
		assert.False(t, d.Send(context.Background(), models.SeverityWarning, "t", "b"))
	}
	assert.Equal(t, 4, chat.count(), "recusas não abrem o circuito")

	chat.mu.Lock()
	chat.err = nil
	chat.mu.Unlock()
	assert.True(t, d.Send(context.Background(), models.SeverityWarning, "t", "b"))
	assert.Equal(t, 5, chat.count())
}
