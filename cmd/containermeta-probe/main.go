// containermeta-probe is a small demonstration binary: it resolves one
// container id against a live runtime and prints the resulting
// descriptor. It exists so the resolution core has an externally
// runnable shape, the same way the teacher project's own main.go is a
// thin driver over its library packages.
package main

import (
	"bytes"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"
	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/containermeta/pkg/asynccache"
	"github.com/christophe-duc/containermeta/pkg/cgroupread"
	"github.com/christophe-duc/containermeta/pkg/config"
	"github.com/christophe-duc/containermeta/pkg/containermeta"
	"github.com/christophe-duc/containermeta/pkg/containermgr"
	"github.com/christophe-duc/containermeta/pkg/dockerapi"
	"github.com/christophe-duc/containermeta/pkg/dockerresolve"
	applog "github.com/christophe-duc/containermeta/pkg/log"
	"github.com/christophe-duc/containermeta/pkg/resolve"
)

const defaultVersion = "unversioned"

var (
	commit    string
	version   = defaultVersion
	buildDate string

	containerID   string
	showConfig    bool
	debuggingFlag bool
)

func main() {
	flaggy.SetName("containermeta-probe")
	flaggy.SetDescription("Resolve one container's metadata against a local runtime")
	flaggy.DefaultParser.AdditionalHelpPrepend = "Demo driver for the container-metadata resolution core"

	flaggy.String(&containerID, "c", "container", "Container id to resolve")
	flaggy.Bool(&showConfig, "p", "print-config", "Print the current default config and exit")
	flaggy.Bool(&debuggingFlag, "d", "debug", "Enable debug logging")
	flaggy.SetVersion(version)
	flaggy.Parse()

	if showConfig {
		printDefaultConfig()
		return
	}

	if containerID == "" {
		stdlog.Fatal("a container id is required: -c <id>")
	}

	appConfig, err := config.NewAppConfig("containermeta-probe", version, commit, buildDate, debuggingFlag)
	if err != nil {
		stdlog.Fatal(err.Error())
	}

	logEntry := applog.NewLogger(appConfig, "")

	if err := run(logEntry, appConfig, containerID); err != nil {
		wrapped := errors.Wrap(err, 0)
		logEntry.Error(wrapped.ErrorStack())
		stdlog.Fatal(wrapped.Error())
	}
}

func run(logEntry *logrus.Entry, appConfig *config.AppConfig, id string) error {
	uc := appConfig.UserConfig

	client := dockerapi.NewClient(uc.DockerSocketPath)
	resolver := dockerresolve.NewResolver(client, uc.APIVersion, uc.QueryImageInfo, logEntry)
	cgroupReader := cgroupread.NewReader(logEntry, uc.CgroupMountOverride)

	cacheConfig := asynccache.Config{MaxWait: uc.MaxWait(), TTL: uc.TTL()}
	dispatcher := resolve.NewDispatcher(resolver, cacheConfig, logEntry)
	defer dispatcher.Stop()
	cgroupDispatcher := resolve.NewCgroupDispatcher(cgroupReader, cacheConfig, logEntry)
	defer cgroupDispatcher.Stop()

	manager := containermgr.NewInMemory()
	info := containermgr.ThreadInfo{PID: os.Getpid(), ContainerID: id}

	complete := dispatcher.Resolve(manager, info, true)
	printHeader(id, complete)

	timeout := time.After(10 * time.Second)
	for !complete {
		select {
		case <-timeout:
			return fmt.Errorf("timed out waiting for resolution of %s", id)
		case <-time.After(50 * time.Millisecond):
			complete = dispatcher.Resolve(manager, info, true)
		}
	}

	d, ok := manager.GetContainer(id)
	if !ok {
		return fmt.Errorf("container %s vanished from the manager", id)
	}

	cgroupDispatcher.Resolve(manager, cgroupread.Key{
		CID:              d.ID,
		MemoryCgroupPath: d.MemoryCgroupPath,
		CPUCgroupPath:    d.CPUCgroupPath,
		CpusetCgroupPath: d.CpusetCgroupPath,
	})
	time.Sleep(100 * time.Millisecond)

	d, ok = manager.GetContainer(id)
	if !ok {
		return fmt.Errorf("container %s vanished from the manager", id)
	}
	printDescriptor(d)
	return nil
}

func printDefaultConfig() {
	defaults := config.GetDefaultConfig()
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	if err := encoder.Encode(defaults); err != nil {
		stdlog.Fatal(err.Error())
	}
	fmt.Println(buf.String())
}

func printHeader(id string, complete bool) {
	heading := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	status := yellow(complete)
	if complete {
		status = green(complete)
	}
	fmt.Printf("%s %s (complete=%s)\n", heading("resolving"), id, status)
}

func printDescriptor(d *containermeta.Descriptor) {
	label := color.New(color.FgMagenta).SprintFunc()
	fmt.Printf("%s %s\n", label("id:"), d.ID)
	fmt.Printf("%s %s\n", label("name:"), d.Name)
	fmt.Printf("%s %s:%s@%s\n", label("image:"), d.ImageRepo, d.ImageTag, d.ImageDigest)
	fmt.Printf("%s %d\n", label("memory_limit:"), d.MemoryLimit)
	fmt.Printf("%s %d\n", label("cpu_shares:"), d.CPUShares)
	fmt.Printf("%s %d\n", label("cpuset_cpu_count:"), d.CpusetCPUCount)
	fmt.Printf("%s %d\n", label("port_mappings:"), len(d.PortMappings))
	fmt.Printf("%s %d\n", label("health_probes:"), len(d.HealthProbes))
}
