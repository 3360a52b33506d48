// Package cgroupread implements the cgroup resource reader: given the
// per-subsystem cgroup paths for one container, it reads and
// range-checks memory, cpu, and cpuset control files. Grounded on the
// subsystem-mount-root discovery pattern used throughout the pack's
// kubelet-derived cgroup manager code, which leans on
// github.com/opencontainers/runc/libcontainer/cgroups rather than
// hand-parsing /proc/self/mountinfo.
package cgroupread

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/opencontainers/runc/libcontainer/cgroups"
	"github.com/sirupsen/logrus"
)

// maxCgroupValue is spec.md §4.E's upper bound: 2^42 - 1. Runtimes
// report "unlimited" as sentinels near 2^63, which would overflow a
// 32-bit kilobyte rendering downstream; 4 TiB is above any realistic
// per-container limit and well below that overflow threshold.
const maxCgroupValue = (int64(1) << 42) - 1

// Key identifies one container's per-subsystem cgroup paths.
type Key struct {
	CID              string
	MemoryCgroupPath string
	CPUCgroupPath    string
	CpusetCgroupPath string
}

// Value holds the resource limits read from the container's cgroups.
// Zero fields mean "not found or out of range"; callers must not treat
// zero as a valid limit.
type Value struct {
	MemoryLimit    int64
	CPUShares      int64
	CPUQuota       int64
	CPUPeriod      int64
	CpusetCPUCount int32
}

// Reader reads cgroup v1 control files under a discovered mount root.
// Mount roots are resolved once per subsystem and cached, mirroring the
// one-time mountinfo scan the kubelet-derived container managers in the
// pack perform at startup.
type Reader struct {
	Log *logrus.Entry

	rootsMu sync.Mutex
	roots   map[string]string
}

// NewReader returns a Reader. overrideRoot, if non-empty, is used
// verbatim as the mount root for every subsystem instead of performing
// discovery — the escape hatch exposed as
// config.UserConfig.CgroupMountOverride for hosts where discovery is
// unreliable (containers running inside containers, for instance).
func NewReader(log *logrus.Entry, overrideRoot string) *Reader {
	r := &Reader{Log: log, roots: make(map[string]string)}
	if overrideRoot != "" {
		for _, subsys := range []string{"memory", "cpu", "cpuset"} {
			r.roots[subsys] = overrideRoot
		}
	}
	return r
}

// Fetch reads all three subsystems for key and is the function wired
// onto a pkg/asynccache.Source as its Fetch[Key, Value] callback.
func (r *Reader) Fetch(key Key) Value {
	var v Value
	r.readMemory(key, &v)
	r.readCPU(key, &v)
	r.readCpuset(key, &v)
	return v
}

func (r *Reader) readMemory(key Key, v *Value) {
	if !strings.Contains(key.MemoryCgroupPath, key.CID) {
		return
	}
	root, err := r.mountRoot("memory")
	if err != nil {
		r.Log.WithError(err).Debug("memory cgroup mount root not found")
		return
	}
	if n, ok := r.readIntFile(joinCgroupPath(root, key.MemoryCgroupPath, "memory.limit_in_bytes")); ok {
		v.MemoryLimit = n
	}
}

func (r *Reader) readCPU(key Key, v *Value) {
	if !strings.Contains(key.CPUCgroupPath, key.CID) {
		return
	}
	root, err := r.mountRoot("cpu")
	if err != nil {
		r.Log.WithError(err).Debug("cpu cgroup mount root not found")
		return
	}
	if n, ok := r.readIntFile(joinCgroupPath(root, key.CPUCgroupPath, "cpu.shares")); ok {
		v.CPUShares = n
	}
	if n, ok := r.readIntFile(joinCgroupPath(root, key.CPUCgroupPath, "cpu.cfs_quota_us")); ok {
		v.CPUQuota = n
	}
	if n, ok := r.readIntFile(joinCgroupPath(root, key.CPUCgroupPath, "cpu.cfs_period_us")); ok {
		v.CPUPeriod = n
	}
}

func (r *Reader) readCpuset(key Key, v *Value) {
	if !strings.Contains(key.CpusetCgroupPath, key.CID) {
		return
	}
	root, err := r.mountRoot("cpuset")
	if err != nil {
		r.Log.WithError(err).Debug("cpuset cgroup mount root not found")
		return
	}
	raw, err := os.ReadFile(joinCgroupPath(root, key.CpusetCgroupPath, "cpuset.effective_cpus"))
	if err != nil {
		r.Log.WithError(err).Debug("cpuset.effective_cpus unreadable")
		return
	}
	v.CpusetCPUCount = int32(CountCPUSetEntries(strings.TrimSpace(string(raw))))
}

// mountRoot resolves and caches subsystem's mount root.
func (r *Reader) mountRoot(subsystem string) (string, error) {
	r.rootsMu.Lock()
	defer r.rootsMu.Unlock()

	if root, ok := r.roots[subsystem]; ok {
		return root, nil
	}

	root, err := cgroups.FindCgroupMountpoint("/", subsystem)
	if err != nil {
		return "", err
	}
	r.roots[subsystem] = root
	return root, nil
}

func joinCgroupPath(root, cgroupPath, file string) string {
	return root + "/" + strings.TrimPrefix(cgroupPath, "/") + "/" + file
}

// readIntFile reads a single-integer control file and range-checks it
// per spec.md §4.E step 3: accepted values are in (0, 2^42).
func (r *Reader) readIntFile(path string) (int64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.Log.WithField("path", path).WithError(err).Debug("cgroup control file unreadable")
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		r.Log.WithField("path", path).WithError(err).Debug("cgroup control file unparseable")
		return 0, false
	}
	if n <= 0 || n > maxCgroupValue {
		r.Log.WithField("path", path).WithField("value", n).Debug("cgroup value out of range, skipping")
		return 0, false
	}
	return n, true
}

// CountCPUSetEntries expands a Linux cpu-list expression (e.g.
// "0-2,5") into the number of CPUs it names. Exported so
// pkg/dockerresolve's HostConfig.CpusetCpus handling and this reader's
// cpuset.effective_cpus handling share one implementation.
func CountCPUSetEntries(cpuset string) int {
	cpuset = strings.TrimSpace(cpuset)
	if cpuset == "" {
		return 0
	}
	count := 0
	for _, part := range strings.Split(cpuset, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, errLo := strconv.Atoi(lo)
			hiN, errHi := strconv.Atoi(hi)
			if errLo == nil && errHi == nil && hiN >= loN {
				count += hiN - loN + 1
				continue
			}
		}
		count++
	}
	return count
}
