// Package containermeta defines the container descriptor — the value
// type the async resolution core produces and the external container
// manager stores. It is the Go-native successor of the teacher's
// runtime-agnostic ContainerDetails/ContainerSummary split in
// pkg/commands/runtime_types.go, collapsed into the single mapping-shaped
// record the specification calls for.
package containermeta

// Incomplete is the sentinel string stubbed into image-identity fields
// before the async lookup completes.
const Incomplete = "incomplete"

// RuntimeType is the variant tag identifying which container engine
// produced a Descriptor.
type RuntimeType string

const (
	RuntimeDocker     RuntimeType = "docker"
	RuntimeContainerd RuntimeType = "containerd"
)

// State mirrors the container lifecycle state as reported by the event
// pipeline. The resolution core never sets or reads it; it exists on
// Descriptor only so the out-of-scope container manager has one record
// shape to store both lifecycle and metadata in.
type State string

const (
	StateUnknown    State = ""
	StateCreated    State = "created"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateExited     State = "exited"
	StateDead       State = "dead"
)

// ProbeKind distinguishes the three health-probe flavors spec.md §3
// enumerates.
type ProbeKind string

const (
	ProbeHealthcheck ProbeKind = "healthcheck"
	ProbeLiveness    ProbeKind = "liveness"
	ProbeReadiness   ProbeKind = "readiness"
)

// HealthProbe is a command extracted from the container's health-check
// or Kubernetes pod-spec configuration. The core extracts probes; it
// never executes them.
type HealthProbe struct {
	Kind ProbeKind
	Exe  string
	Args []string
}

// PortMapping is a single TCP port binding. Only "/tcp" entries are
// ingested by the resolver (spec.md §4.D step 9).
type PortMapping struct {
	HostIP        uint32
	HostPort      uint16
	ContainerPort uint16
}

// Mount is a single bind/volume mount.
type Mount struct {
	Source      string
	Destination string
	Mode        string
	RW          bool
	Propagation string
}

// RestartPolicy mirrors HostConfig.RestartPolicy from the runtime's
// inspect response.
type RestartPolicy struct {
	Name              string
	MaximumRetryCount int
}

// Descriptor is the container identity and resource-configuration
// record the async resolution core produces. Image-identity fields are
// populated with Incomplete until a successful async resolution writes
// over them; MetadataComplete flips to true only then.
type Descriptor struct {
	Type RuntimeType
	ID   string

	Name          string
	IsPodSandbox  bool
	LifecycleState State

	Image        string
	ImageID      string
	ImageRepo    string
	ImageTag     string
	ImageDigest  string

	Labels map[string]string
	Env    []string

	Entrypoint []string
	Cmd        []string
	LogDriver  string

	PortMappings  []PortMapping
	Mounts        []Mount
	HealthProbes  []HealthProbe
	RestartPolicy RestartPolicy

	MemoryLimit int64
	SwapLimit   int64
	CPUShares   int64
	CPUQuota    int64
	CPUPeriod   int64

	CpusetCPUCount int32

	// MemoryCgroupPath, CPUCgroupPath, CpusetCgroupPath are the
	// per-subsystem cgroup paths pkg/cgroupread's async source keys on.
	// Populated by pkg/dockerresolve from HostConfig.CgroupParent; empty
	// until the first successful async resolution.
	MemoryCgroupPath string
	CPUCgroupPath    string
	CpusetCgroupPath string

	ContainerIP uint32

	Privileged *bool

	MetadataComplete bool
}

// NewStub returns the stub descriptor F installs on first sighting of a
// container id: only id, name, and the Incomplete sentinel in every
// image-identity field (spec.md §3 "Lifecycle" and GLOSSARY "Stub
// descriptor").
func NewStub(id, name string) *Descriptor {
	isPodSandbox, stripped := ClassifyName(name)
	return &Descriptor{
		Type:         RuntimeDocker,
		ID:           id,
		Name:         stripped,
		IsPodSandbox: isPodSandbox,
		Image:        Incomplete,
		ImageID:      Incomplete,
		ImageRepo:    Incomplete,
		ImageTag:     Incomplete,
		ImageDigest:  Incomplete,
		Labels:       map[string]string{},
	}
}

// ClassifyName strips a single leading '/' and reports whether the
// result is a Kubernetes pod-sandbox container (spec.md §3, §4.D step 7).
// Shared between NewStub and pkg/dockerresolve so both agree on the
// same naming convention.
func ClassifyName(name string) (isPodSandbox bool, stripped string) {
	stripped = name
	if len(stripped) > 0 && stripped[0] == '/' {
		stripped = stripped[1:]
	}
	return hasPrefixK8sPod(stripped), stripped
}

func hasPrefixK8sPod(name string) bool {
	const prefix = "k8s_POD"
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
