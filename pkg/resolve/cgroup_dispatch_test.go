package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christophe-duc/containermeta/pkg/asynccache"
	"github.com/christophe-duc/containermeta/pkg/cgroupread"
	"github.com/christophe-duc/containermeta/pkg/containermeta"
	"github.com/christophe-duc/containermeta/pkg/containermgr"
)

func newTestCgroupDispatcher(t *testing.T, fetch asynccache.Fetch[cgroupread.Key, cgroupread.Value]) *CgroupDispatcher {
	t.Helper()
	source := asynccache.NewSource(asynccache.Config{MaxWait: 0}, fetch, testLog())
	t.Cleanup(func() { source.Stop(nil) })
	return &CgroupDispatcher{Source: source, Reader: cgroupread.NewReader(testLog(), ""), Log: testLog()}
}

func TestCgroupDispatcherWritesResourceFieldsOntoExistingDescriptor(t *testing.T) {
	key := cgroupread.Key{CID: "abc", MemoryCgroupPath: "/docker/abc", CPUCgroupPath: "/docker/abc", CpusetCgroupPath: "/docker/abc"}
	disp := newTestCgroupDispatcher(t, func(k cgroupread.Key) cgroupread.Value {
		assert.Equal(t, key, k)
		return cgroupread.Value{MemoryLimit: 1 << 20, CPUShares: 512, CPUQuota: 100000, CPUPeriod: 100000, CpusetCPUCount: 2}
	})
	manager := containermgr.NewInMemory()
	manager.AddContainer(&containermeta.Descriptor{ID: "abc", MetadataComplete: true}, containermgr.ThreadInfo{ContainerID: "abc"})

	disp.Resolve(manager, key)

	require.Eventually(t, func() bool {
		d, _ := manager.GetContainer("abc")
		return d.MemoryLimit == 1<<20
	}, time.Second, 5*time.Millisecond)

	d, ok := manager.GetContainer("abc")
	require.True(t, ok)
	assert.Equal(t, int64(512), d.CPUShares)
	assert.Equal(t, int64(100000), d.CPUQuota)
	assert.Equal(t, int64(100000), d.CPUPeriod)
	assert.Equal(t, int32(2), d.CpusetCPUCount)
}

func TestCgroupDispatcherDropsResultWhenDescriptorGone(t *testing.T) {
	disp := newTestCgroupDispatcher(t, func(k cgroupread.Key) cgroupread.Value {
		return cgroupread.Value{MemoryLimit: 99}
	})
	manager := containermgr.NewInMemory()

	disp.Resolve(manager, cgroupread.Key{CID: "missing"})

	time.Sleep(20 * time.Millisecond)
	_, ok := manager.GetContainer("missing")
	assert.False(t, ok)
}

func TestCgroupDispatcherZeroValuesDoNotOverwritePriorLimits(t *testing.T) {
	key := cgroupread.Key{CID: "abc"}
	disp := newTestCgroupDispatcher(t, func(k cgroupread.Key) cgroupread.Value {
		return cgroupread.Value{}
	})
	manager := containermgr.NewInMemory()
	manager.AddContainer(&containermeta.Descriptor{ID: "abc", MetadataComplete: true, MemoryLimit: 4096}, containermgr.ThreadInfo{ContainerID: "abc"})

	disp.Resolve(manager, key)
	time.Sleep(30 * time.Millisecond)

	d, ok := manager.GetContainer("abc")
	require.True(t, ok)
	assert.Equal(t, int64(4096), d.MemoryLimit)
}
