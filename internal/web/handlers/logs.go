package handlers

import (
	"net/http"
	"strconv"

	"code.cloudfoundry.org/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// LogSource buffer de logs em memória (logs.Manager)
type LogSource interface {
	ReadLogs() []string
	ClearLogs() error
}

// LogsHandler gerencia os logs da aplicação
type LogsHandler struct {
	source LogSource
	clock  clock.Clock
}

// NewLogsHandler cria um novo handler de logs
func NewLogsHandler(source LogSource, clk clock.Clock) *LogsHandler {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &LogsHandler{source: source, clock: clk}
}

// GetLogs retorna as linhas JSON do buffer (mais antiga primeiro)
// GET /api/v1/logs?tail=200
func (h *LogsHandler) GetLogs(c *gin.Context) {
	if h.source == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "Log buffer not available")
		return
	}

	lines := h.source.ReadLogs()
	if tailStr := c.Query("tail"); tailStr != "" {
		tail, err := strconv.Atoi(tailStr)
		if err != nil || tail < 0 {
			respondError(c, http.StatusBadRequest, CodeBadRequest, "tail must be a non-negative integer")
			return
		}
		if tail < len(lines) {
			lines = lines[len(lines)-tail:]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"logs":      lines,
		"count":     len(lines),
		"timestamp": h.clock.Now(),
		"source":    "anomaly-watchdog",
	})
}

// ClearLogs limpa os logs da aplicação
// DELETE /api/v1/logs
func (h *LogsHandler) ClearLogs(c *gin.Context) {
	if h.source == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "Log buffer not available")
		return
	}

	if err := h.source.ClearLogs(); err != nil {
		log.Error().Err(err).Msg("Failed to clear logs")
		respondError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logs cleared successfully"})
}
