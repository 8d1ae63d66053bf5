// Package worktree manages isolated git worktrees and the port slots
// their dev servers bind to.
package worktree

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
)

const (
	// PortSlots is the number of concurrent worktree port pairs.
	PortSlots = 15

	backendPortBase  = 9100
	frontendPortBase = 9200
)

// PortIndex maps a run id onto a stable slot in [0, PortSlots). The
// first eight characters are interpreted as base36 after stripping
// non-alphanumerics; ids with no usable characters hash instead.
func PortIndex(runID string) int {
	prefix := runID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(prefix) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	if cleaned := b.String(); cleaned != "" {
		if n, err := strconv.ParseUint(cleaned, 36, 64); err == nil {
			return int(n % PortSlots)
		}
	}
	h := fnv.New32a()
	h.Write([]byte(runID))
	return int(h.Sum32() % PortSlots)
}

// PortsFor returns the backend and frontend ports for a slot index.
func PortsFor(index int) (backend, frontend int) {
	return backendPortBase + index, frontendPortBase + index
}

// PortAllocator finds a free port pair for a run.
type PortAllocator struct {
	// probe reports whether a port can be bound. Swapped in tests.
	probe func(port int) bool
}

// NewPortAllocator creates an allocator that bind-tests real ports.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{probe: portBindable}
}

// Allocate returns a free backend/frontend pair, starting at the run's
// deterministic slot and wrapping through all slots. Both ports of a
// slot must be free. Exhaustion is an error; the caller treats it as
// fatal since every concurrent slot is occupied.
func (a *PortAllocator) Allocate(runID string) (backend, frontend int, err error) {
	start := PortIndex(runID)
	for i := 0; i < PortSlots; i++ {
		slot := (start + i) % PortSlots
		b, f := PortsFor(slot)
		if a.probe(b) && a.probe(f) {
			return b, f, nil
		}
	}
	return 0, 0, fmt.Errorf("no free port slots: all %d backend/frontend pairs in use", PortSlots)
}

func portBindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
