package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/engine"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// EngineStatus engine rodando no mesmo processo
type EngineStatus interface {
	Status() engine.Status
}

// CheckpointReader checkpoint em disco (storage.StateStore)
type CheckpointReader interface {
	Inspect() (storage.PersistedState, error)
}

// CooldownLister registros de cooldown ativos (alerting.Manager)
type CooldownLister interface {
	Snapshot() []alerting.Record
}

// StateHandler estado da histerese e do cooldown
type StateHandler struct {
	engine    EngineStatus
	store     CheckpointReader
	cooldowns CooldownLister
}

// NewStateHandler cria handler. engine e cooldowns são opcionais: sem engine
// no processo o estado vem do checkpoint.
func NewStateHandler(eng EngineStatus, store CheckpointReader, cooldowns CooldownLister) *StateHandler {
	return &StateHandler{engine: eng, store: store, cooldowns: cooldowns}
}

type checkpointView struct {
	Phase         string                      `json:"phase"`
	EpisodeStart  *time.Time                  `json:"episode_start,omitempty"`
	Windows       map[models.Metric][]float64 `json:"windows"`
	SavedAt       *time.Time                  `json:"saved_at,omitempty"`
	SchemaVersion string                      `json:"schema_version,omitempty"`
	Present       bool                        `json:"checkpoint_present"`
}

// GetState retorna o estado atual
// GET /api/v1/state
func (h *StateHandler) GetState(c *gin.Context) {
	if h.engine != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "source": "engine", "state": h.engine.Status()})
		return
	}

	if h.store == nil {
		respondError(c, http.StatusServiceUnavailable, CodeUnavailable, "State not available")
		return
	}

	state, err := h.store.Inspect()
	switch {
	case err == nil:
		view := checkpointView{
			Phase:         state.Hysteresis.Phase.String(),
			EpisodeStart:  state.Hysteresis.EpisodeStart,
			Windows:       state.WindowSummary,
			SchemaVersion: state.SchemaVersion,
			Present:       true,
		}
		if !state.SavedAt.IsZero() {
			savedAt := state.SavedAt
			view.SavedAt = &savedAt
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "source": "checkpoint", "state": view})

	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusOK, gin.H{"success": true, "source": "checkpoint", "state": checkpointView{
			Phase:   models.PhaseNormal.String(),
			Windows: map[models.Metric][]float64{},
		}})

	default:
		log.Warn().Err(err).Msg("Checkpoint unreadable")
		respondError(c, http.StatusInternalServerError, CodeInternal, "Checkpoint unreadable: "+err.Error())
	}
}

// GetCooldowns lista registros de cooldown ativos
// GET /api/v1/cooldowns
func (h *StateHandler) GetCooldowns(c *gin.Context) {
	records := []alerting.Record{}
	if h.cooldowns != nil {
		records = h.cooldowns.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cooldowns": records, "count": len(records)})
}
