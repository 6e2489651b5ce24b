package notify

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTPServer servidor SMTP mínimo (sem TLS) que grava a conversa
type fakeSMTPServer struct {
	listener net.Listener

	mu       sync.Mutex
	commands []string
	data     string
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeSMTPServer{listener: l}
	go s.serve()
	t.Cleanup(func() { l.Close() })
	return s
}

func (s *fakeSMTPServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	write := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	write("220 fake ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		switch {
		case strings.HasPrefix(line, "EHLO"):
			write("250-fake")
			write("250 AUTH PLAIN")
		case strings.HasPrefix(line, "AUTH"):
			write("235 ok")
		case strings.HasPrefix(line, "MAIL"), strings.HasPrefix(line, "RCPT"):
			write("250 ok")
		case line == "DATA":
			write("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			write("250 queued")
		case line == "QUIT":
			write("221 bye")
			return
		default:
			write("250 ok")
		}
	}
}

func TestNewEmailRequiresCredentials(t *testing.T) {
	_, err := NewEmail(EmailConfig{Username: "a@b.c"})
	assert.Error(t, err)
}

func TestEmailDefaults(t *testing.T) {
	e, err := NewEmail(EmailConfig{Username: "ops@example.com", Password: "x", StartTLS: true})
	require.NoError(t, err)
	assert.Equal(t, "smtp.gmail.com", e.config.Host)
	assert.Equal(t, 587, e.config.Port)
	assert.Equal(t, "ops@example.com", e.config.To)
}

func TestEmailDeliver(t *testing.T) {
	server := newFakeSMTPServer(t)

	e, err := NewEmail(EmailConfig{
		Host:     "127.0.0.1",
		Port:     server.port(),
		Username: "ops@example.com",
		Password: "secret",
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)

	err = e.Deliver(context.Background(), Message{
		Title: "Alerta de segurança",
		Body:  "linha 1\nlinha 2",
	})
	require.NoError(t, err)

	server.mu.Lock()
	defer server.mu.Unlock()

	assert.Contains(t, server.commands, "MAIL FROM:<ops@example.com>")
	assert.Contains(t, server.commands, "RCPT TO:<ops@example.com>")
	assert.Contains(t, server.data, "Subject: =?utf-8?q?Alerta_de_seguran=C3=A7a?=")
	assert.Contains(t, server.data, "Content-Type: text/plain; charset=\"utf-8\"")
	assert.Contains(t, server.data, "linha 1\r\nlinha 2")
}

func TestEmailDeliverConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	e, err := NewEmail(EmailConfig{Host: "127.0.0.1", Port: port, Username: "a", Password: "b", Timeout: time.Second})
	require.NoError(t, err)

	err = e.Deliver(context.Background(), Message{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), strconv.Itoa(port))
}
