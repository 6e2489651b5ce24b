package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"
)

// CheckInterval intervalo mínimo entre verificações automáticas
const CheckInterval = 24 * time.Hour

// UpdateInfo contém informações sobre update disponível
type UpdateInfo struct {
	Available      bool
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
	ReleaseNotes   string
}

// Checker verifica releases publicadas
type Checker struct {
	DataDir        string
	BaseURL        string
	CurrentVersion string
	Client         *http.Client
	Clock          clock.Clock
}

// NewChecker cria verificador com os valores do build
func NewChecker(dataDir string) *Checker {
	return &Checker{
		DataDir:        dataDir,
		BaseURL:        DefaultAPIURL,
		CurrentVersion: Version,
		Client:         &http.Client{Timeout: 5 * time.Second},
		Clock:          clock.NewClock(),
	}
}

// CheckForUpdates verifica se há updates disponíveis
func (c *Checker) CheckForUpdates(ctx context.Context) (*UpdateInfo, error) {
	if c.CurrentVersion == "dev" {
		return &UpdateInfo{CurrentVersion: "dev", LatestVersion: "dev"}, nil
	}

	currentVer, err := ParseVersion(c.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("versão atual inválida: %w", err)
	}

	release, err := GetLatestRelease(ctx, c.Client, c.BaseURL, RepoOwner, RepoName, gitHubToken(c.DataDir))
	if err != nil {
		// Sem releases: considerar atualizado
		if errors.Is(err, ErrNoReleases) {
			return &UpdateInfo{
				CurrentVersion: currentVer.String(),
				LatestVersion:  currentVer.String(),
			}, nil
		}
		return nil, err
	}

	latestVer, err := ParseVersion(release.TagName)
	if err != nil {
		return nil, fmt.Errorf("versão da release inválida: %w", err)
	}

	return &UpdateInfo{
		Available:      latestVer.IsNewerThan(currentVer),
		CurrentVersion: currentVer.String(),
		LatestVersion:  latestVer.String(),
		ReleaseURL:     release.HTMLURL,
		ReleaseNotes:   release.Body,
	}, nil
}

// ShouldCheckForUpdates verifica se deve checar updates (1x por dia)
func (c *Checker) ShouldCheckForUpdates() bool {
	if c.CurrentVersion == "dev" {
		return false
	}

	info, err := os.Stat(c.cachePath())
	if err != nil {
		return true
	}

	return c.Clock.Since(info.ModTime()) > CheckInterval
}

// MarkUpdateChecked marca que a verificação foi feita
func (c *Checker) MarkUpdateChecked() error {
	path := c.cachePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	now := c.Clock.Now()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	f.Close()

	return os.Chtimes(path, now, now)
}

func (c *Checker) cachePath() string {
	return filepath.Join(c.DataDir, ".update-check")
}
