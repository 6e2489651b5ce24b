package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"anomaly-watchdog/internal/history"
	"github.com/gin-gonic/gin"
)

// AlertStore leitura do histórico de alertas (history.Tracker)
type AlertStore interface {
	GetFiltered(filter history.Filter) []history.AlertEntry
	GetByID(id string) (*history.AlertEntry, error)
	GetStats() history.Stats
}

// AlertsHandler gerencia endpoints do histórico de alertas
type AlertsHandler struct {
	store AlertStore
}

// NewAlertsHandler cria um novo handler
func NewAlertsHandler(store AlertStore) *AlertsHandler {
	return &AlertsHandler{store: store}
}

// List retorna alertas com filtros opcionais
// GET /api/v1/alerts?key=10.0.0.1_*&severity=critical&status=failed&start_date=2025-01-01&limit=50
func (h *AlertsHandler) List(c *gin.Context) {
	filter := history.Filter{
		Key:      c.Query("key"),
		Severity: c.Query("severity"),
		Status:   c.Query("status"),
	}

	if startDateStr := c.Query("start_date"); startDateStr != "" {
		t, err := time.Parse("2006-01-02", startDateStr)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		filter.StartDate = t
	}

	if endDateStr := c.Query("end_date"); endDateStr != "" {
		t, err := time.Parse("2006-01-02", endDateStr)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		filter.EndDate = t.Add(24 * time.Hour) // Incluir dia completo
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			respondError(c, http.StatusBadRequest, CodeBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	entries := h.store.GetFiltered(filter)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"alerts":  entries,
		"count":   len(entries),
	})
}

// Get retorna um alerta por ID
// GET /api/v1/alerts/:id
func (h *AlertsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.store.GetByID(id)
	if err != nil {
		respondError(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("Alert not found: %s", id))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "alert": entry})
}

// Stats agregados do histórico
// GET /api/v1/alerts/stats
func (h *AlertsHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": h.store.GetStats()})
}
