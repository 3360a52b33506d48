package dockerresolve

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/containermeta/pkg/containermeta"
)

const podSpecAnnotationKey = "annotation.kubectl.kubernetes.io/last-applied-configuration"

// normalizeArg strips matched outer quote pairs from s, repeating until
// no further pair can be stripped. Idempotent: normalizeArg(normalizeArg(s))
// == normalizeArg(s) for all s, per spec.md §8 boundary scenario 4.
func normalizeArg(s string) string {
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = s[1 : len(s)-1]
			continue
		}
		break
	}
	return s
}

// extractProbes builds the descriptor's health-probe list, applying the
// precedence rule from spec.md §4.D.1: a liveness or readiness exec probe
// found in a parseable Kubernetes pod-spec annotation wins over the
// runtime's own Healthcheck configuration entirely — not merged, not
// appended. When the annotation is absent, unparseable, or yields no such
// probe, the Healthcheck configuration is used.
func extractProbes(resp *inspectResponse, log *logrus.Entry) []containermeta.HealthProbe {
	if resp.Labels != nil {
		if raw, ok := resp.Labels[podSpecAnnotationKey]; ok && raw != "" {
			if probes, ok := probesFromPodSpec(raw, log); ok {
				return probes
			}
		}
	}
	return probesFromHealthcheck(resp, log)
}

// probesFromPodSpec reads probes from the pod spec's first container
// (spec.containers[0]) only; the other containers of a multi-container
// pod and its init containers are not consulted. A liveness exec probe is
// preferred over a readiness one.
func probesFromPodSpec(raw string, log *logrus.Entry) ([]containermeta.HealthProbe, bool) {
	var annotation podSpecAnnotation
	if err := json.Unmarshal([]byte(raw), &annotation); err != nil {
		log.WithError(err).Debug("pod-spec annotation did not parse as JSON, falling back to Healthcheck")
		return nil, false
	}
	if len(annotation.Spec.Containers) == 0 {
		return nil, false
	}

	container := annotation.Spec.Containers[0]
	if p, ok := execProbeToHealthProbe(containermeta.ProbeLiveness, container.LivenessProbe); ok {
		return []containermeta.HealthProbe{p}, true
	}
	if p, ok := execProbeToHealthProbe(containermeta.ProbeReadiness, container.ReadinessProbe); ok {
		return []containermeta.HealthProbe{p}, true
	}
	return nil, false
}

func execProbeToHealthProbe(kind containermeta.ProbeKind, probe *execProbe) (containermeta.HealthProbe, bool) {
	if probe == nil || probe.Exec == nil || len(probe.Exec.Command) == 0 {
		return containermeta.HealthProbe{}, false
	}
	// pod-spec exec.command entries are already individually tokenized
	// JSON array elements, not a shell-quoted string, so they are not
	// run through normalizeArg.
	return containermeta.HealthProbe{
		Kind: kind,
		Exe:  probe.Exec.Command[0],
		Args: probe.Exec.Command[1:],
	}, true
}

func probesFromHealthcheck(resp *inspectResponse, log *logrus.Entry) []containermeta.HealthProbe {
	if resp.Config == nil || resp.Config.Healthcheck == nil || len(resp.Config.Healthcheck.Test) == 0 {
		return nil
	}

	test := resp.Config.Healthcheck.Test
	switch test[0] {
	case "NONE":
		return nil
	case "CMD":
		return []containermeta.HealthProbe{healthProbeFromArgs(test[1:])}
	case "CMD-SHELL":
		if len(test) < 2 {
			return nil
		}
		return []containermeta.HealthProbe{{
			Kind: containermeta.ProbeHealthcheck,
			Exe:  "/bin/sh",
			Args: []string{"-c", normalizeArg(test[1])},
		}}
	default:
		log.WithField("test[0]", test[0]).Warn("unrecognized Healthcheck.Test form, emitting no probe")
		return nil
	}
}

func healthProbeFromArgs(args []string) containermeta.HealthProbe {
	if len(args) == 0 {
		return containermeta.HealthProbe{Kind: containermeta.ProbeHealthcheck}
	}
	normalized := make([]string, len(args))
	for i, a := range args {
		normalized[i] = normalizeArg(a)
	}
	return containermeta.HealthProbe{
		Kind: containermeta.ProbeHealthcheck,
		Exe:  normalized[0],
		Args: normalized[1:],
	}
}
