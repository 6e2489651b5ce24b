package cmd

import (
	"context"
	"fmt"

	"anomaly-watchdog/internal/config"
	"anomaly-watchdog/internal/history"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/notify"
	"anomaly-watchdog/internal/monitoring/prometheus"
	"anomaly-watchdog/internal/monitoring/storage"
	"anomaly-watchdog/internal/web"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
)

// buildDispatcher cria o dispatcher com os canais habilitados
func buildDispatcher(cfg *config.Config) (*notify.Dispatcher, error) {
	var chat, email notify.Channel

	if cfg.Telegram.Enabled {
		telegram, err := notify.NewTelegram(cfg.TelegramConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram channel: %w", err)
		}
		chat = telegram
	}

	if cfg.Email.Enabled {
		smtp, err := notify.NewEmail(cfg.EmailConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create email channel: %w", err)
		}
		email = smtp
	}

	if chat == nil && email == nil {
		log.Warn().Msg("No notification channel enabled, alerts will only be logged and recorded")
	}

	return notify.NewDispatcher(notify.DispatcherConfig{}, chat, email), nil
}

// buildSource cria a fonte de amostras do detector
func buildSource(cfg *config.Config, clk clock.Clock) (monitor.SampleSource, error) {
	switch cfg.Source {
	case "", "local":
		return monitor.NewLocalSource(cfg.LocalConfig(), clk), nil
	case "prometheus":
		source, err := prometheus.NewNodeSource(cfg.NodeSourceConfig(), clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus source: %w", err)
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unknown source %q (use local or prometheus)", cfg.Source)
	}
}

// openResults abre o banco de resultados. Falha vira aviso: o monitoramento
// continua sem persistência tabular.
func openResults(cfg *config.Config) *storage.Persistence {
	results, err := storage.NewPersistence(cfg.PersistenceConfig())
	if err != nil {
		log.Warn().Err(err).Msg("Results database unavailable, continuing without it")
		return nil
	}
	return results
}

// openHistory abre o histórico de alertas (aviso em caso de falha)
func openHistory(cfg *config.Config, clk clock.Clock) *history.Tracker {
	tracker, err := history.NewTracker(cfg.DataDir, clk)
	if err != nil {
		log.Warn().Err(err).Msg("Alert history unavailable, continuing without it")
		return nil
	}
	return tracker
}

// webServer cria a API com as fontes disponíveis no processo
func webServer(cfg *config.Config, entity string, deps web.Deps) *web.Server {
	deps.Checkpoint = storage.NewStateStore(cfg.CheckpointPath(), deps.Clock)
	if logManager != nil {
		deps.Logs = logManager
	}
	return web.NewServer(web.Config{
		Port:           cfg.Web.Port,
		Token:          cfg.Web.Token,
		AllowedOrigins: cfg.Web.AllowedOrigins,
		Debug:          cfg.Debug,
		DefaultEntity:  entity,
	}, deps)
}

// serveInBackground inicia a API junto com o monitoramento
func serveInBackground(ctx context.Context, server *web.Server) {
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Web API failed")
		}
	}()
}
