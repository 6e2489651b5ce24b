package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anomaly-watchdog/internal/history"
	"anomaly-watchdog/internal/monitoring/alerting"
	"anomaly-watchdog/internal/monitoring/engine"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/notify"
	"anomaly-watchdog/internal/monitoring/storage"
	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

var testNow = time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)

type fakeCheckpoint struct {
	state storage.PersistedState
	err   error
}

func (f fakeCheckpoint) Inspect() (storage.PersistedState, error) { return f.state, f.err }

type fakeEngine struct{ status engine.Status }

func (f fakeEngine) Status() engine.Status { return f.status }

type fakeCooldowns []alerting.Record

func (f fakeCooldowns) Snapshot() []alerting.Record { return f }

type fakeResults struct {
	hosts   []models.HostMetrics
	samples []storage.SampleRecord
	since   time.Time
	entity  string
}

func (f *fakeResults) LatestHosts() ([]models.HostMetrics, error) { return f.hosts, nil }

func (f *fakeResults) LoadHostMetrics(ip string, since time.Time) ([]models.HostMetrics, error) {
	f.since = since
	var rows []models.HostMetrics
	for _, h := range f.hosts {
		if h.IP == ip {
			rows = append(rows, h)
		}
	}
	return rows, nil
}

func (f *fakeResults) LoadSamples(entity string, since time.Time) ([]storage.SampleRecord, error) {
	f.entity = entity
	f.since = since
	return f.samples, nil
}

type fakeLogs struct {
	lines   []string
	cleared bool
}

func (f *fakeLogs) ReadLogs() []string { return f.lines }
func (f *fakeLogs) ClearLogs() error {
	f.cleared = true
	f.lines = nil
	return nil
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fakeclock.NewFakeClock(testNow)
	}
	return NewServer(Config{Port: 0, Token: testToken, DefaultEntity: "web-01"}, deps)
}

func doRequest(t *testing.T, s *Server, method, path string, auth bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	s := newTestServer(t, Deps{})

	w, body := doRequest(t, s, http.MethodGet, "/health", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = doRequest(t, s, http.MethodGet, "/metrics", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t, Deps{})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/state", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestGeneratedTokenWhenEmpty(t *testing.T) {
	s := NewServer(Config{}, Deps{})
	assert.NotEmpty(t, s.Token())
}

func TestStateFromEngine(t *testing.T) {
	s := newTestServer(t, Deps{Engine: fakeEngine{status: engine.Status{Entity: "web-01", Phase: "ALERTING", Running: true}}})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/state", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "engine", body["source"])
	state := body["state"].(map[string]any)
	assert.Equal(t, "ALERTING", state["phase"])
	assert.Equal(t, "web-01", state["entity"])
}

func TestStateFromCheckpoint(t *testing.T) {
	start := testNow.Add(-10 * time.Minute)
	cp := fakeCheckpoint{state: storage.PersistedState{
		SchemaVersion: storage.CheckpointSchemaVersion,
		Hysteresis:    models.HysteresisState{Phase: models.PhaseAlerting, EpisodeStart: &start},
		WindowSummary: map[models.Metric][]float64{models.MetricCPU: {71, 72}},
		SavedAt:       testNow,
	}}
	s := newTestServer(t, Deps{Checkpoint: cp})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/state", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "checkpoint", body["source"])
	state := body["state"].(map[string]any)
	assert.Equal(t, models.PhaseAlerting.String(), state["phase"])
	assert.Equal(t, true, state["checkpoint_present"])
	assert.NotNil(t, state["episode_start"])
}

func TestStateMissingCheckpointIsNormal(t *testing.T) {
	s := newTestServer(t, Deps{Checkpoint: fakeCheckpoint{err: fs.ErrNotExist}})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/state", true)
	require.Equal(t, http.StatusOK, w.Code)
	state := body["state"].(map[string]any)
	assert.Equal(t, models.PhaseNormal.String(), state["phase"])
	assert.Equal(t, false, state["checkpoint_present"])
}

func TestStateCorruptCheckpoint(t *testing.T) {
	s := newTestServer(t, Deps{Checkpoint: fakeCheckpoint{err: errors.New("bad json")}})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/state", true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(body))
}

func TestCooldowns(t *testing.T) {
	records := fakeCooldowns{{Key: "10.0.0.1_cpu_high", LastFiredAt: testNow, LastValue: 95.0, Cooldown: 10 * time.Minute}}
	s := newTestServer(t, Deps{Cooldowns: records})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/cooldowns", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	s = newTestServer(t, Deps{})
	_, body = doRequest(t, s, http.MethodGet, "/api/v1/cooldowns", true)
	assert.EqualValues(t, 0, body["count"])
}

func TestAlertsEndpoints(t *testing.T) {
	clk := fakeclock.NewFakeClock(testNow)
	tracker, err := history.NewTracker(t.TempDir(), clk)
	require.NoError(t, err)

	tracker.RecordDispatch("10.0.0.1_cpu_high", notify.Message{Severity: models.SeverityWarning, Title: "cpu"}, true)
	clk.Increment(time.Minute)
	tracker.RecordDispatch("10.0.0.2_offline", notify.Message{Severity: models.SeverityCritical, Title: "offline"}, false)
	clk.Increment(time.Minute)
	tracker.RecordDispatch("dos_attack", notify.Message{Severity: models.SeverityCritical, Title: "dos"}, true)

	s := newTestServer(t, Deps{Alerts: tracker, Clock: clk})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/alerts", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["count"])

	_, body = doRequest(t, s, http.MethodGet, "/api/v1/alerts?key=10.0.0.*", true)
	assert.EqualValues(t, 2, body["count"])

	_, body = doRequest(t, s, http.MethodGet, "/api/v1/alerts?severity=critical&status=failed", true)
	require.EqualValues(t, 1, body["count"])
	first := body["alerts"].([]any)[0].(map[string]any)
	id := first["id"].(string)

	w, body = doRequest(t, s, http.MethodGet, "/api/v1/alerts/"+id, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["alert"].(map[string]any)["id"])

	w, body = doRequest(t, s, http.MethodGet, "/api/v1/alerts/missing", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	w, _ = doRequest(t, s, http.MethodGet, "/api/v1/alerts/stats", true)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doRequest(t, s, http.MethodGet, "/api/v1/alerts?start_date=12/03/2025", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", errorCode(body))
}

func TestHostsEndpoints(t *testing.T) {
	results := &fakeResults{hosts: []models.HostMetrics{
		{Timestamp: testNow, State: models.HostOn, IP: "10.0.0.1", CPUPercent: 12},
		models.OfflineHostMetrics("10.0.0.2", testNow),
	}}
	s := newTestServer(t, Deps{Results: results})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/hosts", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["online"])

	w, body = doRequest(t, s, http.MethodGet, "/api/v1/hosts/10.0.0.1?duration=30m", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, testNow.Add(-30*time.Minute), results.since)

	w, _ = doRequest(t, s, http.MethodGet, "/api/v1/hosts/10.9.9.9", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(t, s, http.MethodGet, "/api/v1/hosts/10.0.0.1?duration=abc", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSamplesEndpoint(t *testing.T) {
	results := &fakeResults{samples: []storage.SampleRecord{
		{Sample: models.MetricSample{Timestamp: testNow, CPUPercent: 75}, Anomalous: true, Phase: "ALERTING"},
		{Sample: models.MetricSample{Timestamp: testNow, CPUPercent: 20}, Phase: "ALERTING"},
	}}
	s := newTestServer(t, Deps{Results: results})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/samples", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "web-01", results.entity)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["anomalous"])
	assert.Equal(t, testNow.Add(-time.Hour), results.since)

	_, _ = doRequest(t, s, http.MethodGet, "/api/v1/samples?entity=db-01", true)
	assert.Equal(t, "db-01", results.entity)
}

func TestResultsUnavailable(t *testing.T) {
	s := newTestServer(t, Deps{})

	w, body := doRequest(t, s, http.MethodGet, "/api/v1/hosts", true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "UNAVAILABLE", errorCode(body))
}

func TestLogsEndpoints(t *testing.T) {
	logs := &fakeLogs{lines: []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}}
	s := newTestServer(t, Deps{Logs: logs})

	_, body := doRequest(t, s, http.MethodGet, "/api/v1/logs?tail=2", true)
	lines := body["logs"].([]any)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":3}`, lines[1])

	w, _ := doRequest(t, s, http.MethodDelete, "/api/v1/logs", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, logs.cleared)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, Deps{})

	w, body := doRequest(t, s, http.MethodGet, "/nope", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
