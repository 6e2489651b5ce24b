package logs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MaxLogFileSizeMB tamanho máximo do arquivo de log antes de rotacionar
	MaxLogFileSizeMB = 10
	// MaxLogFiles número máximo de arquivos rotacionados
	MaxLogFiles = 5
	// MaxLogAgeDays idade máxima dos arquivos rotacionados
	MaxLogAgeDays = 28
	// DefaultBufferLines linhas mantidas em memória para a API
	DefaultBufferLines = 1000

	logFileName = "anomaly-watchdog.log"
)

// Config configuração do logging
type Config struct {
	Dir         string // vazio = sem arquivo
	Debug       bool
	Console     bool // saída legível no stderr
	BufferLines int
}

// Manager gerencia o arquivo de log rotacionado e o buffer em memória
type Manager struct {
	file   *lumberjack.Logger
	buffer *LogBuffer
	path   string
}

var (
	instance *Manager
	mu       sync.Mutex
)

// Setup configura o logger global do zerolog: console, arquivo e buffer
func Setup(config Config) (*Manager, error) {
	mu.Lock()
	defer mu.Unlock()

	if config.BufferLines <= 0 {
		config.BufferLines = DefaultBufferLines
	}

	m := &Manager{buffer: NewLogBuffer(config.BufferLines)}
	writers := []io.Writer{m.buffer}

	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		m.path = filepath.Join(config.Dir, logFileName)
		m.file = &lumberjack.Logger{
			Filename:   m.path,
			MaxSize:    MaxLogFileSizeMB,
			MaxBackups: MaxLogFiles,
			MaxAge:     MaxLogAgeDays,
			Compress:   true,
		}
		writers = append(writers, m.file)
	}

	level := zerolog.InfoLevel
	if config.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	if instance != nil {
		instance.closeFile()
	}
	instance = m

	return m, nil
}

// GetInstance retorna o manager configurado (nil antes de Setup)
func GetInstance() *Manager {
	mu.Lock()
	defer mu.Unlock()
	return instance
}

// ReadLogs retorna as linhas em memória (mais antiga primeiro)
func (m *Manager) ReadLogs() []string {
	return m.buffer.Lines()
}

// ClearLogs limpa o buffer e inicia um novo arquivo
func (m *Manager) ClearLogs() error {
	m.buffer.Reset()
	if m.file != nil {
		if err := m.file.Rotate(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}
	log.Info().Str("source", "logs").Msg("Logs cleared by user")
	return nil
}

// GetLogPath caminho do arquivo de log atual (vazio sem arquivo)
func (m *Manager) GetLogPath() string {
	return m.path
}

// Close fecha o arquivo de log
func (m *Manager) Close() error {
	mu.Lock()
	defer mu.Unlock()
	return m.closeFile()
}

func (m *Manager) closeFile() error {
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

// LogBuffer anel de linhas em memória. Implementa io.Writer para o zerolog.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewLogBuffer cria buffer com capacidade fixa
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &LogBuffer{lines: make([]string, capacity)}
}

// Write recebe um ou mais eventos JSON separados por quebra de linha
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range bytes.Split(p, []byte{'\n'}) {
		s := strings.TrimSpace(string(line))
		if s == "" {
			continue
		}
		b.lines[b.next] = s
		b.next = (b.next + 1) % len(b.lines)
		if b.next == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

// Lines cópia das linhas (mais antiga primeiro)
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

// Len número de linhas armazenadas
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Reset descarta todas as linhas
func (b *LogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = make([]string, len(b.lines))
	b.next = 0
	b.full = false
}
