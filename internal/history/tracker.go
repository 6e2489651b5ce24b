package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/notify"
	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AlertEntry representa um disparo no histórico de alertas.
// Registra tentativas de entrega, inclusive as que falharam.
type AlertEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"` // <host>_<condição>
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Email     bool      `json:"email"`
	Status    string    `json:"status"` // delivered, failed
}

// Status constants
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

const (
	defaultMaxEntries = 1000
	loadDays          = 7
	filePrefix        = "alerts-"
	fileSuffix        = ".jsonl"
)

// Tracker gerencia o histórico de alertas (memória + arquivo JSONL diário)
type Tracker struct {
	entries    []AlertEntry
	mutex      sync.RWMutex
	fileMutex  sync.Mutex
	historyDir string
	maxEntries int // Limite de entradas em memória
	clock      clock.Clock
}

// NewTracker cria um novo tracker em <baseDir>/history
func NewTracker(baseDir string, clk clock.Clock) (*Tracker, error) {
	historyDir := filepath.Join(baseDir, "history")

	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if clk == nil {
		clk = clock.NewClock()
	}

	tracker := &Tracker{
		entries:    make([]AlertEntry, 0),
		historyDir: historyDir,
		maxEntries: defaultMaxEntries,
		clock:      clk,
	}

	// Não é erro fatal
	if err := tracker.loadFromDisk(); err != nil {
		log.Warn().Err(err).Str("dir", historyDir).Msg("Could not load alert history")
	}

	return tracker, nil
}

// Dir diretório dos arquivos diários
func (t *Tracker) Dir() string {
	return t.historyDir
}

// RecordDispatch registra o resultado de uma entrega (engine e cooldown)
func (t *Tracker) RecordDispatch(key models.AlertKey, msg notify.Message, delivered bool) {
	status := StatusDelivered
	if !delivered {
		status = StatusFailed
	}
	entry := AlertEntry{
		Key:      string(key),
		Severity: msg.Severity.String(),
		Title:    msg.Title,
		Body:     msg.Body,
		Email:    msg.Email,
		Status:   status,
	}
	if err := t.Log(entry); err != nil {
		log.Warn().Err(err).Str("key", string(key)).Msg("Failed to save alert history entry")
	}
}

// Log adiciona uma entrada ao histórico
func (t *Tracker) Log(entry AlertEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock.Now()
	}

	t.mutex.Lock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
	t.mutex.Unlock()

	return t.appendToDisk(entry)
}

// GetAll retorna todas as entradas (mais recente primeiro)
func (t *Tracker) GetAll() []AlertEntry {
	return t.GetFiltered(Filter{})
}

// GetFiltered retorna entradas filtradas (mais recente primeiro)
func (t *Tracker) GetFiltered(filter Filter) []AlertEntry {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	filtered := make([]AlertEntry, 0)
	for _, entry := range t.entries {
		if filter.Matches(entry) {
			filtered = append(filtered, entry)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}
	return filtered
}

// GetByID retorna uma entrada específica por ID
func (t *Tracker) GetByID(id string) (*AlertEntry, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	for _, entry := range t.entries {
		if entry.ID == id {
			return &entry, nil
		}
	}

	return nil, fmt.Errorf("alert entry not found: %s", id)
}

// Stats agregados do histórico em memória
type Stats struct {
	Total      int            `json:"total"`
	Delivered  int            `json:"delivered"`
	Failed     int            `json:"failed"`
	BySeverity map[string]int `json:"by_severity"`
	ByKey      map[string]int `json:"by_key"`
	Last       *time.Time     `json:"last,omitempty"`
}

// GetStats calcula os agregados
func (t *Tracker) GetStats() Stats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	stats := Stats{
		Total:      len(t.entries),
		BySeverity: make(map[string]int),
		ByKey:      make(map[string]int),
	}
	for _, entry := range t.entries {
		if entry.Status == StatusDelivered {
			stats.Delivered++
		} else {
			stats.Failed++
		}
		stats.BySeverity[entry.Severity]++
		stats.ByKey[entry.Key]++
		if stats.Last == nil || entry.Timestamp.After(*stats.Last) {
			ts := entry.Timestamp
			stats.Last = &ts
		}
	}
	return stats
}

// Clear limpa todo o histórico
func (t *Tracker) Clear() error {
	t.mutex.Lock()
	t.entries = make([]AlertEntry, 0)
	t.mutex.Unlock()

	t.fileMutex.Lock()
	defer t.fileMutex.Unlock()

	files, err := filepath.Glob(filepath.Join(t.historyDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}

func (t *Tracker) dayFile(day time.Time) string {
	return filepath.Join(t.historyDir, filePrefix+day.Format("2006-01-02")+fileSuffix)
}

// appendToDisk acrescenta uma linha JSON ao arquivo do dia
func (t *Tracker) appendToDisk(entry AlertEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode alert entry: %w", err)
	}

	t.fileMutex.Lock()
	defer t.fileMutex.Unlock()

	f, err := os.OpenFile(t.dayFile(entry.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// loadFromDisk carrega os últimos dias para evitar sobrecarga
func (t *Tracker) loadFromDisk() error {
	now := t.clock.Now()
	for i := loadDays - 1; i >= 0; i-- {
		file := t.dayFile(now.AddDate(0, 0, -i))

		f, err := os.Open(file)
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var entry AlertEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			t.entries = append(t.entries, entry)
		}
		f.Close()
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Timestamp.Before(t.entries[j].Timestamp)
	})
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}

	return nil
}

// Filter define filtros para busca
type Filter struct {
	Key       string    // chave exata ou prefixo terminado em "*"
	Severity  string    // INFO, WARNING, CRITICAL
	Status    string    // delivered, failed
	StartDate time.Time // Data inicial
	EndDate   time.Time // Data final
	Limit     int
}

// Matches verifica se uma entrada corresponde ao filtro
func (f Filter) Matches(entry AlertEntry) bool {
	if f.Key != "" {
		if prefix, ok := strings.CutSuffix(f.Key, "*"); ok {
			if !strings.HasPrefix(entry.Key, prefix) {
				return false
			}
		} else if entry.Key != f.Key {
			return false
		}
	}

	if f.Severity != "" && !strings.EqualFold(entry.Severity, f.Severity) {
		return false
	}

	if f.Status != "" && entry.Status != f.Status {
		return false
	}

	if !f.StartDate.IsZero() && entry.Timestamp.Before(f.StartDate) {
		return false
	}

	if !f.EndDate.IsZero() && entry.Timestamp.After(f.EndDate) {
		return false
	}

	return true
}
