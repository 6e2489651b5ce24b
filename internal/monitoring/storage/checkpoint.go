package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// CheckpointSchemaVersion versão atual do formato do checkpoint
const CheckpointSchemaVersion = "2"

// legacyCheckpointVersion formato anterior (alert_sent / attack_start_time)
const legacyCheckpointVersion = "3.0-advanced"

// ErrCheckpointInvalid checkpoint ilegível ou fora do schema
var ErrCheckpointInvalid = errors.New("checkpoint invalid")

const checkpointSchema = `{
	"type": "object",
	"required": ["schema_version", "phase", "episode_start", "window_summary", "saved_at"],
	"properties": {
		"schema_version": {"type": "string"},
		"phase": {"type": "string", "enum": ["NORMAL", "ALERTING"]},
		"episode_start": {"type": ["string", "null"]},
		"window_summary": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"maxItems": 10,
				"items": {"type": "number"}
			}
		},
		"saved_at": {"type": "string"}
	}
}`

const legacyCheckpointSchema = `{
	"type": "object",
	"required": ["version", "alert_sent"],
	"properties": {
		"version": {"type": "string"},
		"alert_sent": {"type": "boolean"},
		"attack_start_time": {"type": ["string", "null"]},
		"metrics_history_summary": {
			"type": "object",
			"properties": {
				"last_10_cpu": {"type": "array", "items": {"type": "number"}},
				"last_10_memory": {"type": "array", "items": {"type": "number"}},
				"last_10_connections": {"type": "array", "items": {"type": "number"}}
			}
		}
	}
}`

// PersistedState snapshot durável da histerese e do resumo das janelas
type PersistedState struct {
	SchemaVersion string
	Hysteresis    models.HysteresisState
	WindowSummary map[models.Metric][]float64
	SavedAt       time.Time
}

// FreshState estado inicial (NORMAL, sem episódio, janelas vazias)
func FreshState() PersistedState {
	return PersistedState{
		SchemaVersion: CheckpointSchemaVersion,
		Hysteresis:    models.HysteresisState{Phase: models.PhaseNormal},
		WindowSummary: map[models.Metric][]float64{},
	}
}

type checkpointFile struct {
	SchemaVersion string               `json:"schema_version"`
	Phase         string               `json:"phase"`
	EpisodeStart  *string              `json:"episode_start"`
	WindowSummary map[string][]float64 `json:"window_summary"`
	SavedAt       string               `json:"saved_at"`
}

type legacyCheckpointFile struct {
	Version         string  `json:"version"`
	AlertSent       bool    `json:"alert_sent"`
	AttackStartTime *string `json:"attack_start_time"`
	LastUpdate      string  `json:"last_update"`
	Summary         struct {
		LastCPU         []float64 `json:"last_10_cpu"`
		LastMemory      []float64 `json:"last_10_memory"`
		LastConnections []float64 `json:"last_10_connections"`
	} `json:"metrics_history_summary"`
}

// StateStore grava o checkpoint de forma atômica (temp + rename)
type StateStore struct {
	path  string
	clock clock.Clock
	mu    sync.Mutex
}

// NewStateStore cria store para o caminho informado
func NewStateStore(path string, clk clock.Clock) *StateStore {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &StateStore{path: path, clock: clk}
}

// Path caminho do checkpoint
func (s *StateStore) Path() string {
	return s.path
}

// Save serializa o estado num arquivo temporário no mesmo diretório e
// substitui o checkpoint anterior via rename. Nunca trunca no lugar.
func (s *StateStore) Save(state PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	savedAt := state.SavedAt
	if savedAt.IsZero() {
		savedAt = s.clock.Now()
	}

	file := checkpointFile{
		SchemaVersion: CheckpointSchemaVersion,
		Phase:         state.Hysteresis.Phase.String(),
		WindowSummary: make(map[string][]float64, len(state.WindowSummary)),
		SavedAt:       savedAt.Format(time.RFC3339Nano),
	}
	if state.Hysteresis.EpisodeStart != nil {
		start := state.Hysteresis.EpisodeStart.Format(time.RFC3339Nano)
		file.EpisodeStart = &start
	}
	for metric, values := range state.WindowSummary {
		file.WindowSummary[string(metric)] = lastN(values, DecisionWindowSize)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	// Sync do diretório garante que o rename sobreviva a queda de energia
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	log.Debug().
		Str("path", s.path).
		Str("phase", file.Phase).
		Int("cpu_samples", len(file.WindowSummary[string(models.MetricCPU)])).
		Msg("Checkpoint saved")

	return nil
}

// Load lê o checkpoint. Ausente, corrompido ou inválido resulta em estado NORMAL novo.
func (s *StateStore) Load() PersistedState {
	state, err := s.Inspect()
	if err == nil {
		log.Info().
			Str("path", s.path).
			Str("phase", state.Hysteresis.Phase.String()).
			Msg("Checkpoint loaded")
		return state
	}

	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", s.path).Msg("No checkpoint found, starting fresh")
	} else {
		log.Warn().Err(err).Str("path", s.path).Msg("Checkpoint unusable, starting fresh")
	}

	return FreshState()
}

// Inspect lê e valida o checkpoint retornando o erro em vez de cair no estado novo
func (s *StateStore) Inspect() (PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return FreshState(), err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return FreshState(), fmt.Errorf("%w: %v", ErrCheckpointInvalid, err)
	}

	if _, isCurrent := probe["schema_version"]; !isCurrent {
		if _, isLegacy := probe["version"]; isLegacy {
			return migrateLegacy(data)
		}
	}

	if err := validateAgainst(checkpointSchema, data); err != nil {
		return FreshState(), err
	}

	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return FreshState(), fmt.Errorf("%w: %v", ErrCheckpointInvalid, err)
	}

	if file.SchemaVersion != CheckpointSchemaVersion {
		return FreshState(), fmt.Errorf("%w: unsupported schema_version %q", ErrCheckpointInvalid, file.SchemaVersion)
	}

	phase, err := models.ParsePhase(file.Phase)
	if err != nil {
		return FreshState(), fmt.Errorf("%w: %v", ErrCheckpointInvalid, err)
	}

	state := FreshState()
	state.Hysteresis.Phase = phase

	if file.EpisodeStart != nil {
		start, err := parseTimestamp(*file.EpisodeStart)
		if err != nil {
			return FreshState(), fmt.Errorf("%w: episode_start: %v", ErrCheckpointInvalid, err)
		}
		state.Hysteresis.EpisodeStart = &start
	}

	if savedAt, err := parseTimestamp(file.SavedAt); err == nil {
		state.SavedAt = savedAt
	}

	for metric, values := range file.WindowSummary {
		state.WindowSummary[models.Metric(metric)] = values
	}

	return state, nil
}

// Reset remove o checkpoint (estado volta a NORMAL na próxima carga)
func (s *StateStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}

	log.Info().Str("path", s.path).Msg("Checkpoint reset")
	return nil
}

// migrateLegacy converte o formato antigo (alert_sent/attack_start_time) para o atual
func migrateLegacy(data []byte) (PersistedState, error) {
	if err := validateAgainst(legacyCheckpointSchema, data); err != nil {
		return FreshState(), err
	}

	var legacy legacyCheckpointFile
	if err := json.Unmarshal(data, &legacy); err != nil {
		return FreshState(), fmt.Errorf("%w: %v", ErrCheckpointInvalid, err)
	}

	if legacy.Version != legacyCheckpointVersion {
		return FreshState(), fmt.Errorf("%w: unsupported legacy version %q", ErrCheckpointInvalid, legacy.Version)
	}

	state := FreshState()
	if legacy.AlertSent {
		state.Hysteresis.Phase = models.PhaseAlerting
	}

	if legacy.AttackStartTime != nil && *legacy.AttackStartTime != "" {
		start, err := parseTimestamp(*legacy.AttackStartTime)
		if err != nil {
			return FreshState(), fmt.Errorf("%w: attack_start_time: %v", ErrCheckpointInvalid, err)
		}
		state.Hysteresis.EpisodeStart = &start
	}

	if savedAt, err := parseTimestamp(legacy.LastUpdate); err == nil {
		state.SavedAt = savedAt
	}

	state.WindowSummary[models.MetricCPU] = lastN(legacy.Summary.LastCPU, DecisionWindowSize)
	state.WindowSummary[models.MetricMemory] = lastN(legacy.Summary.LastMemory, DecisionWindowSize)
	state.WindowSummary[models.MetricConnections] = lastN(legacy.Summary.LastConnections, DecisionWindowSize)

	log.Info().
		Str("from_version", legacy.Version).
		Str("to_version", CheckpointSchemaVersion).
		Bool("alert_sent", legacy.AlertSent).
		Msg("Legacy checkpoint migrated")

	return state, nil
}

func validateAgainst(schema string, data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointInvalid, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrCheckpointInvalid, strings.Join(msgs, "; "))
	}

	return nil
}

// parseTimestamp aceita RFC3339 e o isoformat sem fuso do formato antigo (hora local)
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func lastN(values []float64, n int) []float64 {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	out := make([]float64, len(values))
	copy(out, values)
	return out
}
