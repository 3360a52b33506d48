// Package dockerresolve implements the runtime metadata resolver: given
// a container id it fetches the Docker-shaped inspect JSON over
// pkg/dockerapi, normalises it into a pkg/containermeta.Descriptor, and
// follows NetworkMode=container:<id> chains the way spec.md §4.D
// requires. Grounded on the teacher's pkg/commands/docker.go container
// inspection and pkg/commands/runtime_types.go JSON shapes.
package dockerresolve

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/containermeta/pkg/cgroupread"
	"github.com/christophe-duc/containermeta/pkg/containermeta"
	"github.com/christophe-duc/containermeta/pkg/dockerapi"
)

// maxNetworkModeDepth bounds the NetworkMode=container:<id> chase
// (spec.md §4.D step 8). resolveOnce follows the chain by recursing on
// the worker goroutine, with a visited set so cycles terminate.
const maxNetworkModeDepth = 4

// Resolver fetches and normalises one container's metadata. One
// Resolver is shared across all keys a pkg/asynccache.Source dispatches
// to it; its only mutable state is the permanently-downgraded API
// version (§4.D step 1) and its own image-info toggle.
type Resolver struct {
	Client *dockerapi.Client
	Log    *logrus.Entry

	queryImageInfo atomic.Bool

	versionMu sync.Mutex
	apiVersion string
}

// NewResolver returns a Resolver that talks to client using apiVersion
// as its initial API version prefix (e.g. "/v1.24"). queryImageInfo
// seeds the initial value of the toggle spec.md §6 calls
// query_image_info.
func NewResolver(client *dockerapi.Client, apiVersion string, queryImageInfo bool, log *logrus.Entry) *Resolver {
	r := &Resolver{
		Client:     client,
		Log:        log,
		apiVersion: apiVersion,
	}
	r.queryImageInfo.Store(queryImageInfo)
	return r
}

// SetQueryImageInfo flips this Resolver's image-info sub-fetch toggle.
// Implemented as an atomic.Bool rather than a package-level global
// static (spec.md §9 Design Note) so multiple Resolver instances in the
// same process, e.g. in tests, don't share state unintentionally.
func (r *Resolver) SetQueryImageInfo(enabled bool) {
	r.queryImageInfo.Store(enabled)
}

// QueryImageInfo reports the toggle's current value.
func (r *Resolver) QueryImageInfo() bool {
	return r.queryImageInfo.Load()
}

// FetchForCache adapts Resolve to the asynccache.Fetch[string,
// *containermeta.Descriptor] signature pkg/resolve wires onto a
// pkg/asynccache.Source.
func (r *Resolver) FetchForCache(id string) *containermeta.Descriptor {
	d, err := r.Resolve(context.Background(), id)
	if err != nil {
		r.Log.WithField("id", id).WithError(err).Warn("container metadata resolution failed")
		return nil
	}
	return d
}

// Resolve fetches and fully normalises the metadata for container id,
// following NetworkMode chains up to maxNetworkModeDepth. It is the
// top-level entry point spec.md §4.D describes; resolveOnce does the
// per-container work.
func (r *Resolver) Resolve(ctx context.Context, id string) (*containermeta.Descriptor, error) {
	visited := map[string]bool{id: true}
	return r.resolveOnce(ctx, id, visited, 0)
}

func (r *Resolver) resolveOnce(ctx context.Context, id string, visited map[string]bool, depth int) (*containermeta.Descriptor, error) {
	resp, err := r.fetchContainerJSON(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &containermeta.Descriptor{
		Type: containermeta.RuntimeDocker,
		ID:   resp.ID,
	}
	d.IsPodSandbox, d.Name = containermeta.ClassifyName(resp.Name)
	d.Labels = resp.Labels
	if d.Labels == nil {
		d.Labels = map[string]string{}
	}

	rootImage := resp.Image
	image := ""
	if resp.Config != nil {
		image = resp.Config.Image
		d.Env = resp.Config.Env
		d.Entrypoint = resp.Config.Entrypoint
		d.Cmd = resp.Config.Cmd
	}
	d.Image = image

	imageID := deriveImageID(rootImage)
	d.ImageID = imageID
	imageIsID := isImageIsID(image, imageID, rootImage)

	var repo, tag, digest string
	if !imageIsID {
		_, _, repo, tag, digest = splitImageRef(image)
	}

	if shouldFetchImageInfo(r.queryImageInfo.Load(), imageID, imageIsID, digest, tag) {
		if info, err := r.fetchImageInfo(ctx, imageID); err == nil {
			repo, tag, digest = applyImageInfo(repo, tag, digest, info.RepoDigests, info.RepoTags)
		} else {
			r.Log.WithField("imageID", imageID).WithError(err).Debug("image-info sub-fetch failed, keeping image-ref-derived fields")
		}
	}

	if tag == "" {
		tag = "latest"
	}
	d.ImageRepo = repo
	d.ImageTag = tag
	d.ImageDigest = digest

	if resp.HostConfig != nil {
		cgroupPath := cgroupPathFor(resp.HostConfig.CgroupParent, resp.ID)
		d.MemoryCgroupPath = cgroupPath
		d.CPUCgroupPath = cgroupPath
		d.CpusetCgroupPath = cgroupPath
		d.MemoryLimit = resp.HostConfig.Memory
		d.SwapLimit = resp.HostConfig.MemorySwap
		d.CPUQuota = resp.HostConfig.CPUQuota
		if resp.HostConfig.CPUShares > 0 {
			d.CPUShares = resp.HostConfig.CPUShares
		}
		if resp.HostConfig.CPUPeriod > 0 {
			d.CPUPeriod = resp.HostConfig.CPUPeriod
		}
		d.CpusetCPUCount = int32(cgroupread.CountCPUSetEntries(resp.HostConfig.CpusetCpus))
		d.Privileged = resp.HostConfig.Privileged
		d.LogDriver = resp.HostConfig.LogConfig.Type
		d.RestartPolicy = containermeta.RestartPolicy{
			Name:              resp.HostConfig.RestartPolicy.Name,
			MaximumRetryCount: resp.HostConfig.RestartPolicy.MaximumRetryCount,
		}
	}

	d.Mounts = mountsFromWire(resp.Mounts)
	d.PortMappings = portMappingsFromWire(resp.NetworkSettings)
	d.HealthProbes = extractProbes(resp, r.Log)

	if ip, ok := parseIPv4(networkIP(resp.NetworkSettings)); ok {
		d.ContainerIP = ip
	} else if resp.HostConfig != nil {
		if peerID, ok := networkModeContainerID(resp.HostConfig.NetworkMode); ok && depth < maxNetworkModeDepth && !visited[peerID] {
			visited[peerID] = true
			if peer, err := r.resolveOnce(ctx, peerID, visited, depth+1); err == nil {
				d.ContainerIP = peer.ContainerIP
			}
		}
	}

	d.MetadataComplete = true
	return d, nil
}

// fetchContainerJSON issues the inspect GET, retrying exactly once with
// no API version prefix if the first attempt comes back 4xx (spec.md
// §4.D step 1). That 4xx permanently clears r.apiVersion for the
// lifetime of this Resolver, before the retry and whether or not the
// retry succeeds.
func (r *Resolver) fetchContainerJSON(ctx context.Context, id string) (*inspectResponse, error) {
	body, err := r.getWithVersionFallback(ctx, "/containers/"+id+"/json")
	if err != nil {
		return nil, err
	}

	var resp inspectResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, newResolutionError(KindParse, "container inspect JSON: "+err.Error())
	}
	return &resp, nil
}

func (r *Resolver) fetchImageInfo(ctx context.Context, imageID string) (*imageInfoResponse, error) {
	body, err := r.getWithVersionFallback(ctx, "/images/"+imageID+"/json?digests=1")
	if err != nil {
		return nil, err
	}

	var resp imageInfoResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, newResolutionError(KindParse, "image info JSON: "+err.Error())
	}
	return &resp, nil
}

func (r *Resolver) getWithVersionFallback(ctx context.Context, path string) (string, error) {
	r.versionMu.Lock()
	version := r.apiVersion
	r.versionMu.Unlock()

	status, body, err := r.Client.Get(ctx, version, path)
	switch status {
	case dockerapi.StatusOK:
		return body, nil
	case dockerapi.StatusBadRequest:
		if version == "" {
			return "", newResolutionError(KindProtocol, "runtime rejected request with no API version to fall back to")
		}
		r.versionMu.Lock()
		r.apiVersion = ""
		r.versionMu.Unlock()

		status, body, err = r.Client.Get(ctx, "", path)
		if status != dockerapi.StatusOK {
			return "", classifyTransportError(err)
		}
		return body, nil
	default:
		return "", classifyTransportError(err)
	}
}

func classifyTransportError(err error) error {
	if err == nil {
		return newResolutionError(KindTransport, "unknown transport failure")
	}
	return newResolutionError(KindTransport, err.Error())
}

func mountsFromWire(mounts []wireMount) []containermeta.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]containermeta.Mount, len(mounts))
	for i, m := range mounts {
		out[i] = containermeta.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        m.Mode,
			RW:          m.RW,
			Propagation: m.Propagation,
		}
	}
	return out
}

func portMappingsFromWire(ns *wireNetworkSettings) []containermeta.PortMapping {
	if ns == nil {
		return nil
	}
	var out []containermeta.PortMapping
	for containerPortProto, bindings := range ns.Ports {
		proto := "tcp"
		containerPort := containerPortProto
		if idx := strings.Index(containerPortProto, "/"); idx >= 0 {
			containerPort = containerPortProto[:idx]
			proto = containerPortProto[idx+1:]
		}
		if proto != "tcp" {
			continue
		}
		cp, err := strconv.Atoi(containerPort)
		if err != nil {
			continue
		}
		for _, b := range bindings {
			hp, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			out = append(out, containermeta.PortMapping{
				HostIP:        ipv4ToUint32(b.HostIP),
				HostPort:      uint16(hp),
				ContainerPort: uint16(cp),
			})
		}
	}
	return out
}

func networkIP(ns *wireNetworkSettings) string {
	if ns == nil {
		return ""
	}
	return ns.IPAddress
}

func ipv4ToUint32(ip string) uint32 {
	n, _ := parseIPv4(ip)
	return n
}

// parseIPv4 parses a dotted-quad IPv4 address into its host-byte-order
// uint32 form, reporting whether ip was a parseable address.
func parseIPv4(ip string) (uint32, bool) {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return 0, false
	}
	var out uint32
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, false
		}
		out = out<<8 | uint32(n)
	}
	return out, true
}

// cgroupPathFor derives the per-container cgroup path the cgroupfs
// driver (Docker's default) uses: <parent>/<id>, falling back to the
// well-known "/docker/<id>" layout when no CgroupParent is set. This is
// the same relative path under every subsystem's hierarchy, which is
// why pkg/cgroupread.Key carries one path per subsystem rather than
// computing it itself.
func cgroupPathFor(cgroupParent, id string) string {
	if cgroupParent == "" {
		cgroupParent = "/docker"
	}
	return strings.TrimSuffix(cgroupParent, "/") + "/" + id
}

// networkModeContainerID reports whether mode is a
// "container:<id>"-shaped NetworkMode and, if so, extracts <id>.
func networkModeContainerID(mode string) (string, bool) {
	const prefix = "container:"
	if !strings.HasPrefix(mode, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(mode, prefix)
	if id == "" {
		return "", false
	}
	return id, true
}
