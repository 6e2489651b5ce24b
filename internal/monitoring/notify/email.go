package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSMTPHost    = "smtp.gmail.com"
	defaultSMTPPort    = 587
	defaultSMTPTimeout = 15 * time.Second
)

// EmailConfig configuração SMTP
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// Destinatário (vazio = o próprio usuário)
	To string

	// STARTTLS antes da autenticação (ligado na configuração padrão)
	StartTLS bool
	Timeout  time.Duration
}

// Email envia mensagens texto UTF-8 via SMTP
type Email struct {
	config EmailConfig
}

// NewEmail cria canal de e-mail
func NewEmail(config EmailConfig) (*Email, error) {
	if config.Username == "" || config.Password == "" {
		return nil, fmt.Errorf("smtp username and password are required")
	}
	if config.Host == "" {
		config.Host = defaultSMTPHost
	}
	if config.Port == 0 {
		config.Port = defaultSMTPPort
	}
	if config.To == "" {
		config.To = config.Username
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSMTPTimeout
	}

	log.Info().
		Str("host", config.Host).
		Int("port", config.Port).
		Str("to", config.To).
		Bool("starttls", config.StartTLS).
		Msg("Email channel configured")

	return &Email{config: config}, nil
}

// Name nome do canal
func (e *Email) Name() string {
	return "email"
}

// Deliver envia a mensagem com Title como assunto
func (e *Email) Deliver(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(e.config.Host, fmt.Sprintf("%d", e.config.Port))

	deadline := time.Now().Add(e.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	// Limita toda a conversa SMTP ao mesmo prazo
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set smtp deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if e.config.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: e.config.Host}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}

	if err := client.Mail(e.config.Username); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(e.config.To); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(buildMIMEMessage(e.config.Username, e.config.To, msg.Title, msg.Body)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish email body: %w", err)
	}

	return client.Quit()
}

// buildMIMEMessage monta mensagem text/plain UTF-8 com assunto codificado
func buildMIMEMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
