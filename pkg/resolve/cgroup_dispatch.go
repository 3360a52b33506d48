package resolve

import (
	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/containermeta/pkg/asynccache"
	"github.com/christophe-duc/containermeta/pkg/cgroupread"
	"github.com/christophe-duc/containermeta/pkg/containermgr"
)

// CgroupDispatcher wires a second, independent asynccache.Source onto a
// cgroupread.Reader, per spec.md §4.E's "invoked on a separate async
// cache instance keyed by the full cgroup-key tuple." It never touches
// the image/network metadata pkg/resolve.Dispatcher resolves; the two
// run side by side and each mutates a disjoint set of descriptor
// fields, matching the "mutated at most twice" descriptor lifecycle in
// spec.md §3.
type CgroupDispatcher struct {
	Source *asynccache.Source[cgroupread.Key, cgroupread.Value]
	Reader *cgroupread.Reader
	Log    *logrus.Entry
}

// NewCgroupDispatcher builds a CgroupDispatcher whose async source
// calls reader.Fetch on each distinct, not-yet-cached cgroup key.
func NewCgroupDispatcher(reader *cgroupread.Reader, ttl asynccache.Config, log *logrus.Entry) *CgroupDispatcher {
	ttl.MaxWait = 0
	source := asynccache.NewSource(ttl, reader.Fetch, log)
	return &CgroupDispatcher{Source: source, Reader: reader, Log: log}
}

// Resolve enqueues a cgroup read for key unless manager no longer knows
// about the container, and wires the result back through update on
// completion. key's CID must match the descriptor's id in manager.
func (d *CgroupDispatcher) Resolve(manager containermgr.Manager, key cgroupread.Key) {
	if _, exists := manager.GetContainer(key.CID); !exists {
		return
	}
	d.Source.Lookup(key, func(value cgroupread.Value) {
		update(manager, key, value)
	})
}

// update is spec.md §4.E's final step: if the container descriptor
// still exists in the manager, the resource fields are written back
// onto it; otherwise the result is dropped. Zero fields in value mean
// "not found or out of range" (cgroupread.Reader already applied the
// range check) and must not overwrite a previously known limit.
func update(manager containermgr.Manager, key cgroupread.Key, value cgroupread.Value) {
	d, exists := manager.GetContainer(key.CID)
	if !exists {
		return
	}

	updated := *d
	if value.MemoryLimit > 0 {
		updated.MemoryLimit = value.MemoryLimit
	}
	if value.CPUShares > 0 {
		updated.CPUShares = value.CPUShares
	}
	if value.CPUQuota > 0 {
		updated.CPUQuota = value.CPUQuota
	}
	if value.CPUPeriod > 0 {
		updated.CPUPeriod = value.CPUPeriod
	}
	if value.CpusetCPUCount > 0 {
		updated.CpusetCPUCount = value.CpusetCPUCount
	}

	manager.AddContainer(&updated, containermgr.ThreadInfo{ContainerID: key.CID})
}

// Stop releases the cgroup dispatcher's worker goroutine.
func (d *CgroupDispatcher) Stop() {
	d.Source.Stop(nil)
}
