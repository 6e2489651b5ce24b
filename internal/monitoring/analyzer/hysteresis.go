package analyzer

import (
	"time"

	"anomaly-watchdog/internal/monitoring/models"
)

// Action efeito colateral que o engine deve executar após a transição
type Action int

const (
	ActionNone Action = iota
	ActionAlert
	ActionRecover
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAlert:
		return "alert"
	case ActionRecover:
		return "recover"
	default:
		return "unknown"
	}
}

// Outcome resultado de uma transição da histerese
type Outcome struct {
	Next   models.HysteresisState
	Action Action

	// Duração do episódio encerrado (apenas ActionRecover)
	EpisodeDuration time.Duration
	// Falso quando o episódio não tinha início registrado (checkpoint antigo)
	DurationKnown bool
}

// Transition aplica a máquina NORMAL/ALERTING.
// Entrada exige veredito anômalo; uma única leitura limpa encerra o episódio.
// Auto-transições não geram ação.
func Transition(current models.HysteresisState, anomalous bool, now time.Time) Outcome {
	switch {
	case current.Phase == models.PhaseNormal && anomalous:
		start := now
		return Outcome{
			Next:   models.HysteresisState{Phase: models.PhaseAlerting, EpisodeStart: &start},
			Action: ActionAlert,
		}

	case current.Phase == models.PhaseAlerting && !anomalous:
		out := Outcome{
			Next:   models.HysteresisState{Phase: models.PhaseNormal},
			Action: ActionRecover,
		}
		if current.EpisodeStart != nil {
			out.EpisodeDuration = now.Sub(*current.EpisodeStart)
			if out.EpisodeDuration < 0 {
				out.EpisodeDuration = 0
			}
			out.DurationKnown = true
		}
		return out

	default:
		return Outcome{Next: current, Action: ActionNone}
	}
}
