// Package containermgr defines the container manager collaborator
// contract: the out-of-scope external store that pkg/resolve dispatches
// through and a minimal in-memory implementation so the resolution core
// is independently runnable and testable. Grounded on the teacher's own
// test-double pattern in dummies.go/runtime_mock.go: production code
// depends on an interface, tests and the demo binary supply a concrete
// type.
package containermgr

import (
	"sync"

	"github.com/christophe-duc/containermeta/pkg/containermeta"
)

// ThreadInfo is the minimal process/thread-table record pkg/resolve
// needs to detect container membership; the full table is out of scope
// per spec.md §1 and lives in the event pipeline.
type ThreadInfo struct {
	PID         int
	ContainerID string
}

// Manager is the contract spec.md §6 names as "outbound to manager":
// get_container, add_container, notify_new_container. Implementations
// must be safe to call from the resolution core's worker goroutine;
// spec.md §5 places the serialisation burden on the manager, not the
// core.
type Manager interface {
	GetContainer(id string) (*containermeta.Descriptor, bool)
	AddContainer(d *containermeta.Descriptor, info ThreadInfo)
	NotifyNewContainer(d *containermeta.Descriptor)
}

// InMemory is a mutex-guarded Manager sufficient for tests and the demo
// binary. It is not a production container manager; the real one (out
// of scope) also fans notifications out to subscribers and tracks
// teardown.
type InMemory struct {
	mu           sync.Mutex
	descriptors  map[string]*containermeta.Descriptor
	threads      map[string]ThreadInfo
	Notifications []*containermeta.Descriptor
}

// NewInMemory returns an empty InMemory manager.
func NewInMemory() *InMemory {
	return &InMemory{
		descriptors: make(map[string]*containermeta.Descriptor),
		threads:     make(map[string]ThreadInfo),
	}
}

func (m *InMemory) GetContainer(id string) (*containermeta.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.descriptors[id]
	return d, ok
}

func (m *InMemory) AddContainer(d *containermeta.Descriptor, info ThreadInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[d.ID] = d
	m.threads[d.ID] = info
}

// NotifyNewContainer records the completed descriptor. Called exactly
// once per successful async resolution (spec.md §6).
func (m *InMemory) NotifyNewContainer(d *containermeta.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[d.ID] = d
	m.Notifications = append(m.Notifications, d)
}
