// Package id provides identifier generation for trace artifacts.
//
// Artifact names carry a ULID so a directory listing sorts chronologically:
//
//	tracer-01J9Z3Q4F6W4XG6B8Y2M5N7P0R-2963301847.log
//
// The ULID is only an ordering aid. Uniqueness of the file itself comes from
// exclusive creation in the storage layer (os.CreateTemp), which fills the
// trailing random suffix.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// ArtifactPrefix starts every trace artifact name.
	ArtifactPrefix = "tracer"
	// ArtifactExt ends every trace artifact name.
	ArtifactExt = ".log"
)

// Generator generates monotonic ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // ulid.Monotonic readers are not goroutine safe
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
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

// ArtifactPattern returns an os.CreateTemp pattern for a new artifact. The
// "*" is replaced by the storage layer with a random suffix.
func (g *Generator) ArtifactPattern() string {
	return fmt.Sprintf("%s-%s-*%s", ArtifactPrefix, g.GenerateString(), ArtifactExt)
}

// IsArtifactName reports whether name (a base name or a path) looks like a
// trace artifact.
func IsArtifactName(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ArtifactPrefix+"-") && strings.HasSuffix(base, ArtifactExt)
}
