package updater

import (
	"fmt"
	"strconv"
	"strings"
)

// Preenchidos via -ldflags no build
var (
	Version   = "dev"
	RepoOwner = "anomaly-watchdog"
	RepoName  = "anomaly-watchdog"
)

// SemVer versão semântica simplificada (major.minor.patch)
type SemVer struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion aceita "v1.2.3", "1.2.3", "1.2" e sufixos como "-rc1"
func ParseVersion(s string) (SemVer, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return SemVer{}, fmt.Errorf("versão vazia")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return SemVer{}, fmt.Errorf("versão inválida: %q", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return SemVer{}, fmt.Errorf("versão inválida: %q", s)
		}
		nums[i] = n
	}
	return SemVer{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// IsNewerThan compara campo a campo
func (v SemVer) IsNewerThan(other SemVer) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}
	return v.Patch > other.Patch
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
