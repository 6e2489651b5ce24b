package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	defaultTelegramTimeout = 10 * time.Second
)

// TelegramConfig configuração do bot
type TelegramConfig struct {
	Token      string
	ChatID     string
	ProxyHTTP  string
	ProxyHTTPS string

	BaseURL string
	Timeout time.Duration

	// Mensagens por segundo (0 = 1/s) e rajada permitida
	RatePerSecond float64
	Burst         int
}

// Telegram envia mensagens via Bot API sendMessage
type Telegram struct {
	config  TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram cria canal Telegram
func NewTelegram(config TelegramConfig) (*Telegram, error) {
	if config.Token == "" || config.ChatID == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultTelegramBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTelegramTimeout
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.ProxyHTTP != "" || config.ProxyHTTPS != "" {
		httpProxy, err := parseProxy(config.ProxyHTTP)
		if err != nil {
			return nil, fmt.Errorf("failed to parse http proxy: %w", err)
		}
		httpsProxy, err := parseProxy(config.ProxyHTTPS)
		if err != nil {
			return nil, fmt.Errorf("failed to parse https proxy: %w", err)
		}
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" && httpsProxy != nil {
				return httpsProxy, nil
			}
			return httpProxy, nil
		}
	}

	log.Info().
		Str("chat_id", config.ChatID).
		Bool("proxy", config.ProxyHTTP != "" || config.ProxyHTTPS != "").
		Dur("timeout", config.Timeout).
		Msg("Telegram channel configured")

	return &Telegram{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
	}, nil
}

func parseProxy(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// Name nome do canal
func (t *Telegram) Name() string {
	return "telegram"
}

// Deliver envia o corpo da mensagem (Markdown) para o chat configurado
func (t *Telegram) Deliver(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	text := msg.Body
	if text == "" {
		text = msg.Title
	}

	form := url.Values{}
	form.Set("chat_id", t.config.ChatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.config.BaseURL, "/"), t.config.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		// Remove o token da mensagem de erro (vem na URL)
		return fmt.Errorf("telegram request failed: %s", strings.ReplaceAll(err.Error(), t.config.Token, "***"))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var parsed telegramResponse
	_ = json.Unmarshal(body, &parsed)

	// 4xx é recusa da própria mensagem; 429 é limite de envio e conta como falha
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: telegram API returned status %d: %s", ErrRejected, resp.StatusCode, parsed.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, parsed.Description)
	}
	if !parsed.OK {
		return fmt.Errorf("%w: telegram API rejected message: %s", ErrRejected, parsed.Description)
	}

	return nil
}
