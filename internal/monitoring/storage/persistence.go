package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schemaVersion = "3"

// PersistenceConfig configuração de persistência
type PersistenceConfig struct {
	Enabled     bool          // Habilita persistência
	DBPath      string        // Caminho do banco SQLite
	MaxAge      time.Duration // Máximo tempo de retenção (default: 7 dias)
	AutoCleanup bool          // Limpeza automática de dados antigos
}

// DefaultPersistenceConfig retorna configuração padrão
func DefaultPersistenceConfig() *PersistenceConfig {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".anomaly-watchdog", "results.db")

	return &PersistenceConfig{
		Enabled:     true,
		DBPath:      dbPath,
		MaxAge:      7 * 24 * time.Hour,
		AutoCleanup: true,
	}
}

// SampleRecord linha da tabela samples
type SampleRecord struct {
	Sample    models.MetricSample `json:"sample"`
	Anomalous bool                `json:"anomalous"`
	Phase     string              `json:"phase"`
}

// Persistence grava os resultados tabulares em SQLite
type Persistence struct {
	config *PersistenceConfig
	db     *sql.DB
}

// NewPersistence cria nova instância de persistência
func NewPersistence(config *PersistenceConfig) (*Persistence, error) {
	if config == nil {
		config = DefaultPersistenceConfig()
	}

	if !config.Enabled {
		log.Info().Msg("Persistence disabled")
		return &Persistence{config: config}, nil
	}

	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite funciona melhor com 1 conexão
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	p := &Persistence{
		config: config,
		db:     db,
	}

	if err := p.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().
		Str("db_path", config.DBPath).
		Dur("max_age", config.MaxAge).
		Msg("Persistence initialized")

	if config.AutoCleanup {
		if err := p.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("Initial cleanup failed")
		}
	}

	return p, nil
}

// initSchema cria tabelas se não existirem
func (p *Persistence) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		cpu_percent REAL,
		memory_percent REAL,
		connection_count REAL,
		anomalous INTEGER NOT NULL DEFAULT 0,
		phase TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON do MetricSample
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_lookup
		ON samples(entity, timestamp DESC);

	CREATE TABLE IF NOT EXISTS host_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		state TEXT NOT NULL,
		mac TEXT,
		cpu_percent REAL,
		ram_percent REAL,
		disk_percent REAL,
		data TEXT NOT NULL,  -- JSON do HostMetrics
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(ip, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_host_metrics_lookup
		ON host_metrics(ip, timestamp DESC);

	CREATE INDEX IF NOT EXISTS idx_host_metrics_cleanup
		ON host_metrics(timestamp);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := p.db.Exec(`
		INSERT OR REPLACE INTO metadata (key, value, updated_at)
		VALUES ('schema_version', ?, CURRENT_TIMESTAMP)
	`, schemaVersion)

	log.Debug().Str("schema_version", schemaVersion).Msg("Schema initialized")
	return err
}

// SaveSample salva o sample de um tick junto com o resultado da avaliação
func (p *Persistence) SaveSample(sample models.MetricSample, anomalous bool, phase models.Phase) error {
	if !p.config.Enabled || p.db == nil {
		return nil
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	_, err = p.db.Exec(`
		INSERT OR IGNORE INTO samples
			(entity, timestamp, cpu_percent, memory_percent, connection_count, anomalous, phase, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sample.Entity,
		sample.Timestamp.UTC(),
		sample.CPUPercent,
		sample.MemoryPercent,
		sample.ConnectionCount,
		anomalous,
		phase.String(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}

	return nil
}

// SaveHostMetrics salva as linhas de uma rodada de coleta SNMP em batch
func (p *Persistence) SaveHostMetrics(rows []models.HostMetrics) error {
	if !p.config.Enabled || p.db == nil || len(rows) == 0 {
		return nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO host_metrics
			(ip, timestamp, state, mac, cpu_percent, ram_percent, disk_percent, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			log.Warn().
				Err(err).
				Str("ip", row.IP).
				Msg("Failed to marshal host metrics, skipping")
			continue
		}

		_, err = stmt.Exec(
			row.IP,
			row.Timestamp.UTC(),
			string(row.State),
			row.MAC,
			row.CPUPercent,
			row.RAMPercent(),
			row.DiskPercent(),
			string(data),
		)
		if err != nil {
			log.Warn().
				Err(err).
				Str("ip", row.IP).
				Msg("Failed to insert host metrics, skipping")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug().
		Int("count", len(rows)).
		Msg("Host metrics saved to database")

	return nil
}

// LoadSamples carrega samples de uma entidade desde um instante
func (p *Persistence) LoadSamples(entity string, since time.Time) ([]SampleRecord, error) {
	if !p.config.Enabled || p.db == nil {
		return nil, nil
	}

	rows, err := p.db.Query(`
		SELECT data, anomalous, phase FROM samples
		WHERE entity = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, entity, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	records := make([]SampleRecord, 0)
	for rows.Next() {
		var data, phase string
		var anomalous bool
		if err := rows.Scan(&data, &anomalous, &phase); err != nil {
			log.Warn().Err(err).Msg("Failed to scan sample")
			continue
		}

		var sample models.MetricSample
		if err := json.Unmarshal([]byte(data), &sample); err != nil {
			log.Warn().Err(err).Msg("Failed to unmarshal sample")
			continue
		}

		records = append(records, SampleRecord{Sample: sample, Anomalous: anomalous, Phase: phase})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}

	return records, nil
}

// LoadHostMetrics carrega o histórico de um host desde um instante
func (p *Persistence) LoadHostMetrics(ip string, since time.Time) ([]models.HostMetrics, error) {
	if !p.config.Enabled || p.db == nil {
		return nil, nil
	}

	rows, err := p.db.Query(`
		SELECT data FROM host_metrics
		WHERE ip = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, ip, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query host metrics: %w", err)
	}
	defer rows.Close()

	return scanHostRows(rows)
}

// LatestHosts retorna a linha mais recente de cada host
func (p *Persistence) LatestHosts() ([]models.HostMetrics, error) {
	if !p.config.Enabled || p.db == nil {
		return nil, nil
	}

	rows, err := p.db.Query(`
		SELECT h.data FROM host_metrics h
		JOIN (
			SELECT ip, MAX(timestamp) AS ts FROM host_metrics GROUP BY ip
		) latest ON latest.ip = h.ip AND latest.ts = h.timestamp
		ORDER BY h.ip ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest hosts: %w", err)
	}
	defer rows.Close()

	return scanHostRows(rows)
}

func scanHostRows(rows *sql.Rows) ([]models.HostMetrics, error) {
	result := make([]models.HostMetrics, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			log.Warn().Err(err).Msg("Failed to scan host metrics")
			continue
		}

		var hm models.HostMetrics
		if err := json.Unmarshal([]byte(data), &hm); err != nil {
			log.Warn().Err(err).Msg("Failed to unmarshal host metrics")
			continue
		}

		result = append(result, hm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating host metrics: %w", err)
	}

	return result, nil
}

// Cleanup remove linhas antigas (> MaxAge)
func (p *Persistence) Cleanup() error {
	if !p.config.Enabled || p.db == nil {
		return nil
	}

	cutoff := time.Now().Add(-p.config.MaxAge).UTC()

	var removed int64
	for _, table := range []string{"samples", "host_metrics"} {
		result, err := p.db.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", table, err)
		}
		rows, _ := result.RowsAffected()
		removed += rows
	}

	if removed > 0 {
		log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Cleanup: removed old rows")
	}

	// VACUUM para reduzir tamanho do arquivo
	if removed > 1000 {
		if _, err := p.db.Exec("VACUUM"); err != nil {
			log.Warn().Err(err).Msg("Failed to vacuum database")
		}
	}

	return nil
}

// Stats retorna estatísticas do banco
func (p *Persistence) Stats() (*PersistenceStats, error) {
	if !p.config.Enabled || p.db == nil {
		return &PersistenceStats{Enabled: false}, nil
	}

	stats := &PersistenceStats{
		Enabled: true,
		DBPath:  p.config.DBPath,
	}

	if err := p.db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&stats.TotalSamples); err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}

	if err := p.db.QueryRow(`SELECT COUNT(*) FROM host_metrics`).Scan(&stats.TotalHostRows); err != nil {
		return nil, fmt.Errorf("failed to count host rows: %w", err)
	}

	if err := p.db.QueryRow(`SELECT COUNT(DISTINCT ip) FROM host_metrics`).Scan(&stats.TotalHosts); err != nil {
		return nil, fmt.Errorf("failed to count hosts: %w", err)
	}

	// SQLite retorna timestamps como string
	var oldestStr, newestStr sql.NullString
	err := p.db.QueryRow(`SELECT MIN(timestamp), MAX(timestamp) FROM samples`).
		Scan(&oldestStr, &newestStr)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}

	if oldestStr.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", oldestStr.String); err == nil {
			stats.OldestSample = t
		}
	}
	if newestStr.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", newestStr.String); err == nil {
			stats.NewestSample = t
		}
	}

	var version sql.NullString
	if err := p.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&version); err == nil {
		stats.SchemaVersion = version.String
	}

	if fileInfo, err := os.Stat(p.config.DBPath); err == nil {
		stats.DBSize = fileInfo.Size()
	}

	return stats, nil
}

// PersistenceStats estatísticas de persistência
type PersistenceStats struct {
	Enabled       bool      `json:"enabled"`
	DBPath        string    `json:"db_path"`
	DBSize        int64     `json:"db_size"`
	SchemaVersion string    `json:"schema_version"`
	TotalSamples  int64     `json:"total_samples"`
	TotalHostRows int64     `json:"total_host_rows"`
	TotalHosts    int64     `json:"total_hosts"`
	OldestSample  time.Time `json:"oldest_sample"`
	NewestSample  time.Time `json:"newest_sample"`
}

// Close fecha conexão com banco
func (p *Persistence) Close() error {
	if p.db != nil {
		log.Info().Msg("Closing database connection")
		return p.db.Close()
	}
	return nil
}

// Vacuum executa VACUUM no banco (compacta)
func (p *Persistence) Vacuum() error {
	if !p.config.Enabled || p.db == nil {
		return nil
	}

	log.Info().Msg("Running VACUUM on database")
	_, err := p.db.Exec("VACUUM")
	return err
}
