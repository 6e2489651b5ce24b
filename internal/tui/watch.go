package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Loader monta um snapshot atualizado
type Loader func() Snapshot

// snapshotMsg é enviada quando um novo snapshot foi carregado
type snapshotMsg struct {
	snapshot Snapshot
}

// tickMsg dispara o próximo recarregamento
type tickMsg time.Time

// WatchModel atualiza o status periodicamente (status --watch)
type WatchModel struct {
	load     Loader
	interval time.Duration

	snapshot Snapshot
	loaded   bool
	width    int
	height   int
}

// NewWatchModel cria o modelo. Intervalo mínimo de 1s.
func NewWatchModel(load Loader, interval time.Duration) *WatchModel {
	if interval < time.Second {
		interval = time.Second
	}
	return &WatchModel{load: load, interval: interval}
}

// Init carrega o primeiro snapshot
func (m *WatchModel) Init() tea.Cmd {
	return m.loadSnapshot()
}

func (m *WatchModel) loadSnapshot() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{snapshot: m.load()}
	}
}

func (m *WatchModel) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update trata teclas, redimensionamento e ticks
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r", "f5":
			return m, m.loadSnapshot()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		first := !m.loaded
		m.snapshot = msg.snapshot
		m.loaded = true
		// Só o carregamento inicial agenda o tick; recargas manuais não duplicam o loop
		if first {
			return m, m.scheduleTick()
		}

	case tickMsg:
		return m, tea.Batch(m.loadSnapshot(), m.scheduleTick())
	}

	return m, nil
}

// View renderiza o status atual
func (m *WatchModel) View() string {
	if !m.loaded {
		return "\n🔄 Carregando status...\n"
	}
	help := mutedStyle.Render(fmt.Sprintf("Atualiza a cada %s | R/F5: Recarregar | Q/ESC: Sair", m.interval))
	return RenderStatus(m.snapshot, m.width) + "\n" + help + "\n"
}
