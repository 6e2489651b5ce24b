package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const trustedHeader = "# Lista de endereços MAC confiáveis (um por linha)\n# Exemplo: aa:bb:cc:dd:ee:ff\n"

// TrustedDevices lista de MACs confiáveis recarregada quando o arquivo muda
type TrustedDevices struct {
	path string

	mu   sync.RWMutex
	macs map[string]struct{}
}

// LoadTrustedDevices lê o arquivo; se não existir, cria com cabeçalho e retorna lista vazia
func LoadTrustedDevices(path string) (*TrustedDevices, error) {
	t := &TrustedDevices{
		path: path,
		macs: make(map[string]struct{}),
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("file", path).Msg("Trusted devices file not found, creating an empty one")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create trusted devices dir: %w", err)
			}
		}
		if err := os.WriteFile(path, []byte(trustedHeader), 0644); err != nil {
			return nil, fmt.Errorf("failed to create trusted devices file: %w", err)
		}
		return t, nil
	}

	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Path caminho do arquivo
func (t *TrustedDevices) Path() string {
	return t.path
}

// Reload relê o arquivo e troca o conjunto inteiro de uma vez
func (t *TrustedDevices) Reload() error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open trusted devices file: %w", err)
	}
	defer f.Close()

	macs := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, ":") {
			continue
		}
		macs[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trusted devices file: %w", err)
	}

	t.mu.Lock()
	t.macs = macs
	t.mu.Unlock()

	log.Info().Str("file", t.path).Int("count", len(macs)).Msg("Trusted devices loaded")
	return nil
}

// Contains verifica se o MAC está na lista (comparação sem caixa)
func (t *TrustedDevices) Contains(mac string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.macs[strings.ToLower(strings.TrimSpace(mac))]
	return ok
}

// Len quantidade de MACs
func (t *TrustedDevices) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.macs)
}

// List MACs ordenados
func (t *TrustedDevices) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]string, 0, len(t.macs))
	for mac := range t.macs {
		list = append(list, mac)
	}
	sort.Strings(list)
	return list
}

// Watch recarrega a lista a cada alteração do arquivo até ctx terminar.
// Observa o diretório porque editores costumam substituir o arquivo por rename.
func (t *TrustedDevices) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(t.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := t.Reload(); err != nil {
					// Arquivo pode estar no meio de uma substituição; mantém a lista anterior
					log.Warn().Err(err).Str("file", t.path).Msg("Failed to reload trusted devices")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Trusted devices watcher error")
			}
		}
	}()

	log.Debug().Str("file", t.path).Msg("Watching trusted devices file")
	return nil
}
