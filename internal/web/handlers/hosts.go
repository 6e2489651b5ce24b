package handlers

import (
	"net/http"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/storage"
	"code.cloudfoundry.org/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ResultsReader consultas ao banco de resultados (storage.Persistence)
type ResultsReader interface {
	LatestHosts() ([]models.HostMetrics, error)
	LoadHostMetrics(ip string, since time.Time) ([]models.HostMetrics, error)
	LoadSamples(entity string, since time.Time) ([]storage.SampleRecord, error)
}

// HostsHandler linhas dos hosts SNMP e samples do detector
type HostsHandler struct {
	results       ResultsReader
	defaultEntity string
	clock         clock.Clock
}

// NewHostsHandler cria handler
func NewHostsHandler(results ResultsReader, defaultEntity string, clk clock.Clock) *HostsHandler {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &HostsHandler{results: results, defaultEntity: defaultEntity, clock: clk}
}

// List retorna a linha mais recente de cada host
// GET /api/v1/hosts
func (h *HostsHandler) List(c *gin.Context) {
	if h.results == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "Results database not available")
		return
	}

	hosts, err := h.results.LatestHosts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load latest hosts")
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to load hosts from database")
		return
	}

	online := 0
	for _, host := range hosts {
		if host.State == models.HostOn {
			online++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"hosts":   hosts,
		"count":   len(hosts),
		"online":  online,
	})
}

// Get histórico de um host
// GET /api/v1/hosts/:ip?duration=1h
func (h *HostsHandler) Get(c *gin.Context) {
	if h.results == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "Results database not available")
		return
	}

	ip := c.Param("ip")
	since, duration, ok := parseWindow(c, h.clock.Now())
	if !ok {
		return
	}

	rows, err := h.results.LoadHostMetrics(ip, since)
	if err != nil {
		log.Error().Err(err).Str("ip", ip).Msg("Failed to load host metrics")
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to load host metrics from database")
		return
	}
	if len(rows) == 0 {
		respondError(c, http.StatusNotFound, CodeNotFound, "No data for host "+ip+" in the last "+duration)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"ip":       ip,
		"duration": duration,
		"rows":     rows,
		"count":    len(rows),
	})
}

// Samples samples do detector de uma entidade
// GET /api/v1/samples?entity=web-01&duration=1h
func (h *HostsHandler) Samples(c *gin.Context) {
	if h.results == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "Results database not available")
		return
	}

	entity := c.DefaultQuery("entity", h.defaultEntity)
	if entity == "" {
		respondError(c, http.StatusBadRequest, CodeBadRequest, "entity query parameter is required")
		return
	}

	since, duration, ok := parseWindow(c, h.clock.Now())
	if !ok {
		return
	}

	records, err := h.results.LoadSamples(entity, since)
	if err != nil {
		log.Error().Err(err).Str("entity", entity).Msg("Failed to load samples")
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to load samples from database")
		return
	}

	anomalous := 0
	for _, r := range records {
		if r.Anomalous {
			anomalous++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"entity":    entity,
		"duration":  duration,
		"samples":   records,
		"count":     len(records),
		"anomalous": anomalous,
	})
}
