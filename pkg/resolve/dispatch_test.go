package resolve

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christophe-duc/containermeta/pkg/asynccache"
	"github.com/christophe-duc/containermeta/pkg/containermeta"
	"github.com/christophe-duc/containermeta/pkg/containermgr"
	"github.com/christophe-duc/containermeta/pkg/dockerapi"
	"github.com/christophe-duc/containermeta/pkg/dockerresolve"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newTestDispatcher(t *testing.T, fetch asynccache.Fetch[string, *containermeta.Descriptor]) *Dispatcher {
	t.Helper()
	resolver := dockerresolve.NewResolver(dockerapi.NewClient(""), "/v1.24", false, testLog())
	source := asynccache.NewSource(asynccache.Config{MaxWait: 0}, fetch, testLog())
	t.Cleanup(func() { source.Stop(nil) })
	return &Dispatcher{Source: source, Resolver: resolver, Log: testLog()}
}

func TestResolveInsertsStubAndReturnsFalseWithoutQueryOS(t *testing.T) {
	disp := newTestDispatcher(t, func(id string) *containermeta.Descriptor {
		t.Fatal("fetch should not be called when queryOS is false")
		return nil
	})
	manager := containermgr.NewInMemory()

	result := disp.Resolve(manager, containermgr.ThreadInfo{PID: 1, ContainerID: "abc"}, false)

	assert.False(t, result)
	d, ok := manager.GetContainer("abc")
	require.True(t, ok)
	assert.Equal(t, containermeta.Incomplete, d.Image)
	assert.False(t, d.MetadataComplete)
}

func TestResolveReturnsTrueWhenAlreadyComplete(t *testing.T) {
	disp := newTestDispatcher(t, func(id string) *containermeta.Descriptor {
		t.Fatal("fetch should not be called when already complete")
		return nil
	})
	manager := containermgr.NewInMemory()
	manager.AddContainer(&containermeta.Descriptor{ID: "abc", MetadataComplete: true}, containermgr.ThreadInfo{ContainerID: "abc"})

	result := disp.Resolve(manager, containermgr.ThreadInfo{ContainerID: "abc"}, true)
	assert.True(t, result)
}

func TestResolveEnqueuesLookupAndNotifiesOnCompletion(t *testing.T) {
	release := make(chan struct{})
	disp := newTestDispatcher(t, func(id string) *containermeta.Descriptor {
		<-release
		return &containermeta.Descriptor{ID: id, Image: "redis:7", MetadataComplete: true}
	})
	manager := containermgr.NewInMemory()

	result := disp.Resolve(manager, containermgr.ThreadInfo{ContainerID: "abc"}, true)
	assert.False(t, result)

	close(release)

	require.Eventually(t, func() bool {
		return len(manager.Notifications) == 1
	}, time.Second, 5*time.Millisecond)

	d, ok := manager.GetContainer("abc")
	require.True(t, ok)
	assert.True(t, d.MetadataComplete)
	assert.Equal(t, "redis:7", d.Image)
}

func TestResolveDedupsRepeatedCallsForSameID(t *testing.T) {
	var calls int
	release := make(chan struct{})
	disp := newTestDispatcher(t, func(id string) *containermeta.Descriptor {
		calls++
		<-release
		return &containermeta.Descriptor{ID: id, MetadataComplete: true}
	})
	manager := containermgr.NewInMemory()

	disp.Resolve(manager, containermgr.ThreadInfo{ContainerID: "abc"}, true)
	disp.Resolve(manager, containermgr.ThreadInfo{ContainerID: "abc"}, true)
	close(release)

	require.Eventually(t, func() bool {
		return len(manager.Notifications) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, calls)
}

func TestResolveWithEmptyIDReturnsFalse(t *testing.T) {
	disp := newTestDispatcher(t, func(id string) *containermeta.Descriptor { return nil })
	manager := containermgr.NewInMemory()
	assert.False(t, disp.Resolve(manager, containermgr.ThreadInfo{}, true))
}

func TestSetQueryImageInfoForwardsToResolver(t *testing.T) {
	disp := newTestDispatcher(t, func(id string) *containermeta.Descriptor { return nil })
	assert.False(t, disp.Resolver.QueryImageInfo())
	disp.SetQueryImageInfo(true)
	assert.True(t, disp.Resolver.QueryImageInfo())
}
