package analyzer

import (
	"testing"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/storage"
)

func TestTransitionNormalToAlerting(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	out := Transition(models.HysteresisState{Phase: models.PhaseNormal}, true, now)

	if out.Action != ActionAlert {
		t.Fatalf("expected alert action, got %s", out.Action)
	}
	if out.Next.Phase != models.PhaseAlerting {
		t.Errorf("expected ALERTING, got %s", out.Next.Phase)
	}
	if out.Next.EpisodeStart == nil || !out.Next.EpisodeStart.Equal(now) {
		t.Errorf("expected episode start %v, got %v", now, out.Next.EpisodeStart)
	}
}

func TestTransitionAlertingToNormal(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)

	out := Transition(models.HysteresisState{Phase: models.PhaseAlerting, EpisodeStart: &start}, false, now)

	if out.Action != ActionRecover {
		t.Fatalf("expected recover action, got %s", out.Action)
	}
	if out.Next.Phase != models.PhaseNormal || out.Next.EpisodeStart != nil {
		t.Errorf("expected NORMAL without episode, got %+v", out.Next)
	}
	if !out.DurationKnown || out.EpisodeDuration != 90*time.Second {
		t.Errorf("expected 90s duration, got %v (known=%v)", out.EpisodeDuration, out.DurationKnown)
	}

	// Segunda leitura limpa não gera nada
	again := Transition(out.Next, false, now.Add(time.Minute))
	if again.Action != ActionNone {
		t.Errorf("expected no action on second clean tick, got %s", again.Action)
	}
}

func TestTransitionSelfLoops(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	alerting := models.HysteresisState{Phase: models.PhaseAlerting, EpisodeStart: &start}

	out := Transition(alerting, true, start.Add(time.Minute))
	if out.Action != ActionNone {
		t.Errorf("expected no action while alerting, got %s", out.Action)
	}
	if out.Next.EpisodeStart == nil || !out.Next.EpisodeStart.Equal(start) {
		t.Error("episode start must be preserved while alerting")
	}

	out = Transition(models.HysteresisState{Phase: models.PhaseNormal}, false, start)
	if out.Action != ActionNone || out.Next.Phase != models.PhaseNormal {
		t.Errorf("expected NORMAL self-loop, got %+v", out)
	}
}

func TestTransitionRecoveryWithoutEpisodeStart(t *testing.T) {
	// Checkpoint antigo pode trazer ALERTING sem início registrado
	out := Transition(models.HysteresisState{Phase: models.PhaseAlerting}, false, time.Now())

	if out.Action != ActionRecover {
		t.Fatalf("expected recover action, got %s", out.Action)
	}
	if out.DurationKnown {
		t.Error("expected unknown duration")
	}
}

// runScenario alimenta detector + histerese com uma série de CPU, um tick por valor
func runScenario(t *testing.T, detector *Detector, values []float64, interval time.Duration) []Outcome {
	t.Helper()

	state := models.HysteresisState{Phase: models.PhaseNormal}
	now := weekday
	cpu := []float64{}
	outcomes := make([]Outcome, 0, len(values))

	for _, v := range values {
		now = now.Add(interval)
		cpu = append(cpu, v)
		if len(cpu) > storage.DecisionWindowSize {
			cpu = cpu[1:]
		}
		windows := windowsOf(cpu, constant(len(cpu), 40), constant(len(cpu), 100))

		verdict := detector.Evaluate(windows, sampleAt(windows), now)
		out := Transition(state, verdict.Anomalous, now)
		if out.Action == ActionAlert && verdict.ThreatLevel != models.ThreatHigh {
			t.Errorf("expected HIGH threat on alert, got %s", verdict.ThreatLevel)
		}
		state = out.Next
		outcomes = append(outcomes, out)
	}

	return outcomes
}

func countActions(outcomes []Outcome, action Action) int {
	n := 0
	for _, o := range outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

func TestScenarioTrailingRecoversOnNextTick(t *testing.T) {
	config := DefaultDetectorConfig()
	config.SustainedMode = SustainedTrailing
	detector := NewDetector(config)

	interval := 30 * time.Second
	outcomes := runScenario(t, detector, []float64{71, 72, 73, 74, 75, 68}, interval)

	if outcomes[4].Action != ActionAlert {
		t.Fatalf("expected alert on the 75 sample, got %s", outcomes[4].Action)
	}
	last := outcomes[5]
	if last.Action != ActionRecover {
		t.Fatalf("expected recovery on the 68 sample, got %s", last.Action)
	}
	if last.EpisodeDuration != interval {
		t.Errorf("expected episode duration of one tick (%v), got %v", interval, last.EpisodeDuration)
	}
	if countActions(outcomes, ActionAlert) != 1 || countActions(outcomes, ActionRecover) != 1 {
		t.Error("expected exactly one alert and one recovery")
	}
}

func TestScenarioAnywhereHoldsWhileRunInWindow(t *testing.T) {
	detector := NewDetector(nil)

	interval := 30 * time.Second
	// A sequência de 5 permanece na janela de 10 até o sexto 68
	values := []float64{71, 72, 73, 74, 75, 68, 68, 68, 68, 68, 68}
	outcomes := runScenario(t, detector, values, interval)

	if outcomes[4].Action != ActionAlert {
		t.Fatalf("expected alert on the 75 sample, got %s", outcomes[4].Action)
	}
	for i := 5; i < 10; i++ {
		if outcomes[i].Action != ActionNone {
			t.Errorf("tick %d: expected episode to continue, got %s", i, outcomes[i].Action)
		}
	}

	last := outcomes[10]
	if last.Action != ActionRecover {
		t.Fatalf("expected recovery once the run leaves the window, got %s", last.Action)
	}
	if last.EpisodeDuration != 6*interval {
		t.Errorf("expected duration %v, got %v", 6*interval, last.EpisodeDuration)
	}
}
