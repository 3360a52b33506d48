package dockerresolve

import "github.com/docker/docker/api/types/container"

// The runtime's JSON shape is hand-mirrored here rather than decoded
// into github.com/docker/docker/api/types.ContainerJSON directly: the
// teacher does the same thing in pkg/commands/runtime_types.go ("This
// replaces Docker's container.InspectResponse type") to decouple from
// that package's frequent shape churn across API versions. The one
// nested shape that's stable enough to reuse verbatim is
// container.HealthConfig, imported below.

type inspectResponse struct {
	ID              string              `json:"Id"`
	Name            string              `json:"Name"`
	Image           string              `json:"Image"`
	Mounts          []wireMount         `json:"Mounts"`
	Config          *wireConfig         `json:"Config"`
	HostConfig      *wireHostConfig     `json:"HostConfig"`
	NetworkSettings *wireNetworkSettings `json:"NetworkSettings"`
	Labels          map[string]string   `json:"Labels"`
}

type wireConfig struct {
	Image       string                     `json:"Image"`
	Labels      map[string]string          `json:"Labels"`
	Env         []string                   `json:"Env"`
	Entrypoint  []string                   `json:"Entrypoint"`
	Cmd         []string                   `json:"Cmd"`
	Healthcheck *container.HealthConfig    `json:"Healthcheck"`
}

type wireHostConfig struct {
	NetworkMode       string            `json:"NetworkMode"`
	Memory            int64             `json:"Memory"`
	MemorySwap        int64             `json:"MemorySwap"`
	CPUShares         int64             `json:"CpuShares"`
	CPUQuota          int64             `json:"CpuQuota"`
	CPUPeriod         int64             `json:"CpuPeriod"`
	CpusetCpus        string            `json:"CpusetCpus"`
	CgroupParent      string            `json:"CgroupParent"`
	Privileged        *bool             `json:"Privileged"`
	RestartPolicy     wireRestartPolicy `json:"RestartPolicy"`
	LogConfig         wireLogConfig     `json:"LogConfig"`
}

type wireRestartPolicy struct {
	Name              string `json:"Name"`
	MaximumRetryCount int    `json:"MaximumRetryCount"`
}

type wireLogConfig struct {
	Type string `json:"Type"`
}

type wireNetworkSettings struct {
	IPAddress string                       `json:"IPAddress"`
	Ports     map[string][]wirePortBinding `json:"Ports"`
}

type wirePortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

type wireMount struct {
	Source      string `json:"Source"`
	Destination string `json:"Destination"`
	Mode        string `json:"Mode"`
	RW          bool   `json:"RW"`
	Propagation string `json:"Propagation"`
}

// imageInfoResponse is the shape of GET /images/<id>/json?digests=1
// that the resolver actually consumes.
type imageInfoResponse struct {
	RepoDigests []string `json:"RepoDigests"`
	RepoTags    []string `json:"RepoTags"`
}

// podSpecAnnotation is the shape of the Kubernetes
// "annotation.kubectl.kubernetes.io/last-applied-configuration" label
// value, trimmed to the fields spec.md §4.D.1 reads.
type podSpecAnnotation struct {
	Spec struct {
		Containers []struct {
			LivenessProbe  *execProbe `json:"livenessProbe"`
			ReadinessProbe *execProbe `json:"readinessProbe"`
		} `json:"containers"`
	} `json:"spec"`
}

type execProbe struct {
	Exec *struct {
		Command []string `json:"command"`
	} `json:"exec"`
}
