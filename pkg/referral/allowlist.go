package referral

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"gopkg.in/yaml.v3"
)

// Allowlist is the address -> facilities mapping a referral may target.
// Loaded from YAML, refreshable at runtime without a restart.
type Allowlist struct {
	mu        sync.RWMutex
	addresses map[string][]string
	path      string
}

type allowlistFile struct {
	Addresses map[string][]string `yaml:"addresses"`
}

// DefaultAllowlist is the built-in partner list used when no file is
// configured.
func DefaultAllowlist() *Allowlist {
	return &Allowlist{
		addresses: map[string][]string{
			"Hà Nội": {"Bệnh Viện Bạch Mai"},
		},
	}
}

func LoadAllowlist(path string) (*Allowlist, error) {
	a := &Allowlist{path: path}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allowlist) Reload() error {
	if a.path == "" {
		return nil
	}
	raw, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("read allowlist %s: %w", a.path, err)
	}
	var file allowlistFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse allowlist %s: %w", a.path, err)
	}
	if len(file.Addresses) == 0 {
		return fmt.Errorf("allowlist %s has no addresses", a.path)
	}

	a.mu.Lock()
	a.addresses = file.Addresses
	a.mu.Unlock()
	return nil
}

// StartRefresh reloads the file on the given interval until ctx is done. A
// failed reload keeps the previous mapping.
func (a *Allowlist) StartRefresh(ctx context.Context, interval time.Duration) {
	if a.path == "" || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.Reload(); err != nil {
					logger.Log.WithError(err).Warn("Allowlist refresh failed")
				}
			}
		}
	}()
}

func (a *Allowlist) Validate(address, facility string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, f := range a.addresses[address] {
		if f == facility {
			return true
		}
	}
	return false
}

// Options returns a copy; callers may not mutate the live mapping.
func (a *Allowlist) Options() map[string][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string][]string, len(a.addresses))
	for address, facilities := range a.addresses {
		out[address] = append([]string(nil), facilities...)
	}
	return out
}
