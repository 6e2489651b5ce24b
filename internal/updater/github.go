package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoReleases repositório inexistente ou sem releases publicadas
var ErrNoReleases = errors.New("repositório não encontrado ou sem releases publicadas")

// DefaultAPIURL endpoint público da API do GitHub
const DefaultAPIURL = "https://api.github.com"

// GitHubRelease representa uma release do GitHub
type GitHubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// GetLatestRelease busca a última release do GitHub
func GetLatestRelease(ctx context.Context, client *http.Client, baseURL, owner, repo, token string) (*GitHubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(baseURL, "/"), owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "anomaly-watchdog")
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNoReleases
		}
		return nil, fmt.Errorf("GitHub API retornou status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("erro ao decodificar JSON: %w", err)
	}

	return &release, nil
}

// gitHubToken busca em GITHUB_TOKEN ou <dataDir>/.github-token
func gitHubToken(dataDir string) string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}

	data, err := os.ReadFile(filepath.Join(dataDir, ".github-token"))
	if err == nil {
		return strings.TrimSpace(string(data))
	}

	return ""
}
