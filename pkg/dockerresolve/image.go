package dockerresolve

import "strings"

// splitImageRef splits a raw image reference into its registry hostname,
// port, repository, tag, and digest components, per spec.md §4.D step 4.
// The domain rule used to tell a registry-host ":port" apart from a
// repository ":tag" is that the first path segment is a registry host
// when it contains '.' or ':', or is literally "localhost" — in which
// case any ':' inside it must not be mistaken for the tag separator.
// Taking the last ':' that occurs *after* the last '/' already encodes
// this rule (a host-embedded port always precedes the final '/').
func splitImageRef(ref string) (hostname, port, repo, tag, digest string) {
	if at := strings.LastIndex(ref, "@"); at >= 0 {
		digest = ref[at+1:]
		ref = ref[:at]
	}

	if firstSlash := strings.Index(ref, "/"); firstSlash > 0 {
		candidate := ref[:firstSlash]
		if strings.ContainsAny(candidate, ".:") || candidate == "localhost" {
			hostname = candidate
			if c := strings.Index(hostname, ":"); c >= 0 {
				port = hostname[c+1:]
				hostname = hostname[:c]
			}
		}
	}

	lastSlash := strings.LastIndex(ref, "/")
	lastColon := strings.LastIndex(ref, ":")
	if lastColon > lastSlash {
		tag = ref[lastColon+1:]
		repo = ref[:lastColon]
	} else {
		repo = ref
	}

	return hostname, port, repo, tag, digest
}

// isImageIsID reports whether the "image name IS the id" case from
// spec.md §4.D step 3 applies: image is a prefix of imageID or of the
// top-level, content-addressed root image reference.
func isImageIsID(image, imageID, rootImage string) bool {
	if image == "" {
		return false
	}
	return strings.HasPrefix(imageID, image) || strings.HasPrefix(rootImage, image)
}

// deriveImageID returns the suffix of rootImage after its first ':',
// or rootImage unchanged if it carries no ':' (spec.md §4.D step 3).
func deriveImageID(rootImage string) string {
	if idx := strings.Index(rootImage, ":"); idx >= 0 {
		return rootImage[idx+1:]
	}
	return rootImage
}

// applyImageInfo folds an image-info sub-fetch response onto the
// in-progress repo/tag/digest fields, per spec.md §4.D step 5.
func applyImageInfo(repo, tag, digest string, repoDigests, repoTags []string) (newRepo, newTag, newDigest string) {
	newRepo, newTag, newDigest = repo, tag, digest

	var distinctDigests []string
	matchedDigest := ""
	firstRepo := ""

	for _, rd := range repoDigests {
		name, dgst := splitLast(rd, "@")
		if firstRepo == "" {
			firstRepo = name
		}
		if name == newRepo && matchedDigest == "" {
			matchedDigest = dgst
		}
		distinctDigests = appendDistinct(distinctDigests, dgst)
	}

	if newRepo == "" {
		newRepo = firstRepo
	}

	if matchedDigest != "" {
		newDigest = matchedDigest
	} else if newDigest == "" && len(distinctDigests) == 1 {
		newDigest = distinctDigests[0]
	}

	for _, rt := range repoTags {
		name, t := splitLast(rt, ":")
		if name == newRepo {
			newTag = t
			break
		}
	}

	return newRepo, newTag, newDigest
}

// shouldFetchImageInfo implements the sub-fetch gate of spec.md §4.D
// step 5.
func shouldFetchImageInfo(queryImageInfo bool, imageID string, imageIsID bool, digest, tag string) bool {
	if !queryImageInfo || imageID == "" {
		return false
	}
	return imageIsID || digest == "" || (digest != "" && tag == "")
}

func splitLast(s, sep string) (before, after string) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+len(sep):]
}

func appendDistinct(values []string, v string) []string {
	if v == "" {
		return values
	}
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
