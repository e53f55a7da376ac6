// Package id provides centralized ID generation for the gateway.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: Enables efficient time-based queries
//   - Prefixed types: Type-specific prefixes for debugging (esc_*, apr_*, bs_*)
//   - Type safety: Separate types prevent ID misuse
//   - Compatibility: Works seamlessly with platform (string) IDs
//
// Design Principles:
//   - ULIDs only: Single ID format across the gateway
//   - K-sortable: Timeline queries without timestamps
//   - Debuggable: Prefixes make logs and webhook links readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// EscalationID identifies a CAPTCHA escalation record
type EscalationID string

// ApprovalID identifies a pending approval record
type ApprovalID string

// BrowserSessionID identifies a live browser streaming session
type BrowserSessionID string

// RequestID identifies an API request
type RequestID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	EscalationPrefix     = "esc"
	ApprovalPrefix       = "apr"
	BrowserSessionPrefix = "bs"
	RequestPrefix        = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewEscalationID generates a new escalation ID
func NewEscalationID() EscalationID {
	return EscalationID(Default().GenerateWithPrefix(EscalationPrefix))
}

// NewApprovalID generates a new approval ID
func NewApprovalID() ApprovalID {
	return ApprovalID(Default().GenerateWithPrefix(ApprovalPrefix))
}

// NewBrowserSessionID generates a new browser session ID
func NewBrowserSessionID() BrowserSessionID {
	return BrowserSessionID(Default().GenerateWithPrefix(BrowserSessionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

// String methods for ID types
func (id EscalationID) String() string     { return string(id) }
func (id ApprovalID) String() string       { return string(id) }
func (id BrowserSessionID) String() string { return string(id) }
func (id RequestID) String() string        { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
