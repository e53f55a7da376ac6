package approval

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"

	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

// Policy maps domains to permission levels. Entries may be literal domains
// or doublestar patterns ("*.bank.example"); a literal match always beats a
// pattern, and pattern lookup walks entries in sorted order so the outcome
// is deterministic. Unlisted domains are auto-approved.
//
// The map is process-local: a restart resets policy to whatever the policy
// file reloads.
type Policy struct {
	mu     sync.RWMutex
	levels map[string]types.PermissionLevel // Protected by mu
}

// NewPolicy creates an empty policy where every domain is auto-approved.
func NewPolicy() *Policy {
	return &Policy{levels: make(map[string]types.PermissionLevel)}
}

// Set assigns a level to a domain or pattern, replacing any previous entry.
func (p *Policy) Set(domain string, level types.PermissionLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[domain] = level
}

// Level resolves the permission level for a domain.
func (p *Policy) Level(domain string) types.PermissionLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if level, ok := p.levels[domain]; ok {
		return level
	}

	patterns := make([]string, 0, len(p.levels))
	for pattern := range p.levels {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, domain); err == nil && ok {
			return p.levels[pattern]
		}
	}
	return types.PermissionAutoApproved
}

// Domains returns a snapshot of all configured entries.
func (p *Policy) Domains() map[string]types.PermissionLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]types.PermissionLevel, len(p.levels))
	for domain, level := range p.levels {
		out[domain] = level
	}
	return out
}

type policyFile struct {
	Domains map[string]types.PermissionLevel `yaml:"domains"`
}

// LoadFile merges entries from a YAML policy file:
//
//	domains:
//	  "*.bank.example": blocked
//	  "shop.example": requires_approval
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	for domain, level := range file.Domains {
		if !level.Valid() {
			return fmt.Errorf("policy file: unknown level %q for domain %q", level, domain)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for domain, level := range file.Domains {
		p.levels[domain] = level
	}
	return nil
}
