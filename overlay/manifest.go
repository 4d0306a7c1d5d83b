// Package overlay materializes patched libraries into a destination root
// suitable for layering onto a base container image: only the files that
// differ from the base, at their original absolute paths.
package overlay

import (
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// ManifestName is the sidecar written at the destination root recording
// what was patched, for layer tagging tooling to consume.
const ManifestName = ".lambshm-manifest.json"

// LibraryMode is forced on every patched library. The source tree may only
// be readable as root but the overlay must serve an unprivileged runtime
// user.
const LibraryMode fs.FileMode = 0o555

// Entry is one file of the overlay.
type Entry struct {
	Data []byte
	Mode fs.FileMode
	// Offsets lists the patched byte offsets. Entries with offsets are
	// libraries and get LibraryMode regardless of Mode; pass-through
	// auxiliary files leave it empty.
	Offsets []int64
}

// Manifest maps absolute destination paths to overlay entries. It becomes
// immutable once assembly begins.
type Manifest struct {
	mu      sync.Mutex
	entries map[string]Entry
	frozen  bool

	// ShmDir is the path baked into the patched libraries, recorded so
	// the bootstrap wrapper side can verify it ensures the same one.
	ShmDir string
}

// NewManifest creates an empty manifest for the given baked-in path.
func NewManifest(shmDir string) *Manifest {
	return &Manifest{entries: make(map[string]Entry), ShmDir: shmDir}
}

// Add registers a file at its absolute destination path.
func (m *Manifest) Add(path string, e Entry) error {
	if len(path) == 0 || path[0] != '/' {
		return fmt.Errorf("overlay: path %q is not absolute", path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return fmt.Errorf("overlay: manifest is frozen, cannot add %s", path)
	}
	if _, ok := m.entries[path]; ok {
		return fmt.Errorf("overlay: duplicate entry %s", path)
	}
	m.entries[path] = e
	return nil
}

// Len returns the number of registered files.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Paths returns the registered destination paths in sorted order.
func (m *Manifest) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := make([]string, 0, len(m.entries))
	for p := range m.entries {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

// Entry returns the entry for path.
func (m *Manifest) Entry(path string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path]
	return e, ok
}

// freeze forbids further additions and returns a stable snapshot.
func (m *Manifest) freeze() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	snap := make(map[string]Entry, len(m.entries))
	for p, e := range m.entries {
		snap[p] = e
	}
	return snap
}
