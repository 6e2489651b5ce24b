package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
)

func newTestPersistence(t *testing.T, name string) *Persistence {
	t.Helper()

	config := &PersistenceConfig{
		Enabled:     true,
		DBPath:      filepath.Join(t.TempDir(), name),
		MaxAge:      24 * time.Hour,
		AutoCleanup: true,
	}

	p, err := NewPersistence(config)
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPersistence(t *testing.T) {
	p := newTestPersistence(t, "test.db")

	// Verifica que DB foi criado
	if _, err := os.Stat(p.config.DBPath); os.IsNotExist(err) {
		t.Fatal("Database file was not created")
	}

	now := time.Now()
	s1 := models.MetricSample{Timestamp: now, Entity: "srv-01", CPUPercent: 50, MemoryPercent: 40, ConnectionCount: 120}
	s2 := models.MetricSample{Timestamp: now.Add(30 * time.Second), Entity: "srv-01", CPUPercent: 75, MemoryPercent: 41, ConnectionCount: 130}

	if err := p.SaveSample(s1, false, models.PhaseNormal); err != nil {
		t.Fatalf("Failed to save sample1: %v", err)
	}
	if err := p.SaveSample(s2, true, models.PhaseAlerting); err != nil {
		t.Fatalf("Failed to save sample2: %v", err)
	}

	records, err := p.LoadSamples("srv-01", now.Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("Failed to load samples: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(records))
	}

	if records[0].Sample.CPUPercent != 50 || records[0].Anomalous {
		t.Errorf("unexpected first record: %+v", records[0])
	}

	if records[1].Phase != "ALERTING" || !records[1].Anomalous {
		t.Errorf("unexpected second record: %+v", records[1])
	}

	// Outra entidade não aparece
	other, err := p.LoadSamples("srv-02", now.Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("Failed to load samples: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected 0 samples for srv-02, got %d", len(other))
	}
}

func TestPersistenceDuplicateSampleIgnored(t *testing.T) {
	p := newTestPersistence(t, "dup.db")

	s := models.MetricSample{Timestamp: time.Now(), Entity: "srv-01", CPUPercent: 10}
	if err := p.SaveSample(s, false, models.PhaseNormal); err != nil {
		t.Fatalf("Failed to save sample: %v", err)
	}
	if err := p.SaveSample(s, false, models.PhaseNormal); err != nil {
		t.Fatalf("Duplicate insert should be ignored, got: %v", err)
	}

	stats, err := p.Stats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalSamples != 1 {
		t.Errorf("Expected 1 sample, got %d", stats.TotalSamples)
	}
}

func TestPersistenceHostMetrics(t *testing.T) {
	p := newTestPersistence(t, "hosts.db")

	base := time.Now().Add(-10 * time.Minute)
	rows := make([]models.HostMetrics, 0)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		rows = append(rows,
			models.HostMetrics{Timestamp: ts, State: models.HostOn, IP: "10.0.0.1", CPUPercent: float64(10 * (i + 1)), TotalRAMMB: 1000, UsedRAMMB: 500},
			models.HostMetrics{Timestamp: ts, State: models.HostOn, IP: "10.0.0.2", CPUPercent: 5},
		)
	}
	rows = append(rows, models.OfflineHostMetrics("10.0.0.2", base.Add(5*time.Minute)))

	if err := p.SaveHostMetrics(rows); err != nil {
		t.Fatalf("Failed to save batch: %v", err)
	}

	history, err := p.LoadHostMetrics("10.0.0.1", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Failed to load host metrics: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(history))
	}
	if history[2].CPUPercent != 30 {
		t.Errorf("Expected last cpu 30, got %.1f", history[2].CPUPercent)
	}
	if history[0].RAMPercent() != 50 {
		t.Errorf("Expected ram 50%%, got %.1f", history[0].RAMPercent())
	}

	latest, err := p.LatestHosts()
	if err != nil {
		t.Fatalf("Failed to load latest hosts: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("Expected 2 hosts, got %d", len(latest))
	}
	// Ordenado por IP; 10.0.0.2 terminou offline
	if latest[1].IP != "10.0.0.2" || latest[1].State != models.HostOff {
		t.Errorf("Expected 10.0.0.2 offline, got %+v", latest[1])
	}
}

func TestPersistenceCleanup(t *testing.T) {
	p := newTestPersistence(t, "cleanup.db")

	old := models.MetricSample{Timestamp: time.Now().Add(-48 * time.Hour), Entity: "srv-01"}
	recent := models.MetricSample{Timestamp: time.Now(), Entity: "srv-01"}

	if err := p.SaveSample(old, false, models.PhaseNormal); err != nil {
		t.Fatalf("Failed to save old sample: %v", err)
	}
	if err := p.SaveSample(recent, false, models.PhaseNormal); err != nil {
		t.Fatalf("Failed to save recent sample: %v", err)
	}
	if err := p.SaveHostMetrics([]models.HostMetrics{models.OfflineHostMetrics("10.0.0.9", time.Now().Add(-72*time.Hour))}); err != nil {
		t.Fatalf("Failed to save host row: %v", err)
	}

	if err := p.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	stats, err := p.Stats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats.TotalSamples != 1 {
		t.Errorf("Expected 1 sample after cleanup, got %d", stats.TotalSamples)
	}
	if stats.TotalHostRows != 0 {
		t.Errorf("Expected 0 host rows after cleanup, got %d", stats.TotalHostRows)
	}
	if stats.SchemaVersion != schemaVersion {
		t.Errorf("Expected schema version %s, got %s", schemaVersion, stats.SchemaVersion)
	}
}

func TestPersistenceDisabled(t *testing.T) {
	p, err := NewPersistence(&PersistenceConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create disabled persistence: %v", err)
	}

	// Operações viram no-op
	if err := p.SaveSample(models.MetricSample{}, false, models.PhaseNormal); err != nil {
		t.Errorf("SaveSample should be no-op, got %v", err)
	}

	stats, err := p.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Enabled {
		t.Error("Expected stats to report disabled")
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close should be no-op, got %v", err)
	}
}
