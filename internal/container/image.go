package container

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

var ErrInvalidImage = errors.New("invalid_image")

// Image is a container image reference. It holds either a Docker url such as
// ghcr.io/ewatercycle/wflow-grpc4bmi:2020.1.3 or an Apptainer filename such
// as ewatercycle-wflow-grpc4bmi_2020.1.3.sif.
//
// The conversion between the two is lossy: an image name holding an
// underscore without a tag, or a dash without an organisation, does not
// survive a round trip.
type Image string

var (
	pathSegment = regexp.MustCompile(`^[a-z0-9]+(?:[._-]+[a-z0-9]+)*$`)
	registryRe  = regexp.MustCompile(`^[a-zA-Z0-9.-]+(?::[0-9]+)?$`)
	tagRe       = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)
)

type dockerRef struct {
	registry string
	org      string
	name     string
	tag      string
	digest   digest.Digest
}

func (i Image) String() string {
	return string(i)
}

// IsApptainer reports whether the image is an Apptainer .sif filename.
func (i Image) IsApptainer() bool {
	return strings.HasSuffix(string(i), ".sif")
}

// DockerURL returns the Docker form of the image.
func (i Image) DockerURL() (string, error) {
	s := strings.TrimSpace(string(i))
	if !strings.HasSuffix(s, ".sif") {
		if _, err := parseDockerRef(s); err != nil {
			return "", err
		}
		return s, nil
	}
	org, name, tag, err := parseSIF(s)
	if err != nil {
		return "", err
	}
	url := name
	if org != "" {
		url = org + "/" + name
	}
	if tag != "" {
		url += ":" + tag
	}
	return url, nil
}

// ApptainerFilename returns the .sif filename of the image. The registry is
// dropped, the organisation is joined with a dash and the tag with an
// underscore.
func (i Image) ApptainerFilename() (string, error) {
	s := strings.TrimSpace(string(i))
	if strings.HasSuffix(s, ".sif") {
		if _, _, _, err := parseSIF(s); err != nil {
			return "", err
		}
		return s, nil
	}
	ref, err := parseDockerRef(s)
	if err != nil {
		return "", err
	}
	file := ref.name
	if ref.org != "" {
		file = ref.org + "-" + ref.name
	}
	if ref.tag != "" {
		file += "_" + ref.tag
	}
	return file + ".sif", nil
}

// Version returns the tag of the image or "unknown" when it has none.
func (i Image) Version() string {
	s := strings.TrimSpace(string(i))
	if strings.HasSuffix(s, ".sif") {
		if _, _, tag, err := parseSIF(s); err == nil && tag != "" {
			return tag
		}
		return "unknown"
	}
	ref, err := parseDockerRef(s)
	if err != nil || ref.tag == "" {
		return "unknown"
	}
	return ref.tag
}

// Digest returns the pinned digest of a name@sha256:... reference.
func (i Image) Digest() (digest.Digest, bool) {
	ref, err := parseDockerRef(strings.TrimSpace(string(i)))
	if err != nil || ref.digest == "" {
		return "", false
	}
	return ref.digest, true
}

func parseDockerRef(s string) (dockerRef, error) {
	if s == "" {
		return dockerRef{}, fmt.Errorf("%w: empty reference", ErrInvalidImage)
	}
	var ref dockerRef
	if at := strings.LastIndex(s, "@"); at >= 0 {
		d, err := digest.Parse(strings.ToLower(s[at+1:]))
		if err != nil {
			return dockerRef{}, fmt.Errorf("%w: %q: %v", ErrInvalidImage, s, err)
		}
		ref.digest = d
		s = s[:at]
	}

	parts := strings.Split(s, "/")
	last := parts[len(parts)-1]
	if colon := strings.LastIndex(last, ":"); colon >= 0 {
		ref.tag = last[colon+1:]
		last = last[:colon]
		if !tagRe.MatchString(ref.tag) {
			return dockerRef{}, fmt.Errorf("%w: %q has an invalid tag", ErrInvalidImage, s)
		}
	}
	parts[len(parts)-1] = last

	switch len(parts) {
	case 1:
		ref.name = parts[0]
	case 2:
		ref.org, ref.name = parts[0], parts[1]
	case 3:
		ref.registry, ref.org, ref.name = parts[0], parts[1], parts[2]
		if !registryRe.MatchString(ref.registry) {
			return dockerRef{}, fmt.Errorf("%w: %q has an invalid registry", ErrInvalidImage, s)
		}
	default:
		return dockerRef{}, fmt.Errorf("%w: %q is not a docker url", ErrInvalidImage, s)
	}
	if !pathSegment.MatchString(ref.name) || (ref.org != "" && !pathSegment.MatchString(ref.org)) {
		return dockerRef{}, fmt.Errorf("%w: %q is not a docker url", ErrInvalidImage, s)
	}
	return ref, nil
}

// parseSIF splits org-name_tag.sif. The organisation ends at the first dash
// and the tag starts at the last underscore.
func parseSIF(s string) (org, name, tag string, err error) {
	if strings.ContainsAny(s, "/:@") {
		return "", "", "", fmt.Errorf("%w: %q is not an apptainer filename", ErrInvalidImage, s)
	}
	stem := strings.TrimSuffix(s, ".sif")
	if u := strings.LastIndex(stem, "_"); u >= 0 {
		stem, tag = stem[:u], stem[u+1:]
		if !tagRe.MatchString(tag) {
			return "", "", "", fmt.Errorf("%w: %q has an invalid tag", ErrInvalidImage, s)
		}
	}
	name = stem
	if d := strings.Index(stem, "-"); d >= 0 {
		org, name = stem[:d], stem[d+1:]
	}
	if !pathSegment.MatchString(name) || (org != "" && !pathSegment.MatchString(org)) {
		return "", "", "", fmt.Errorf("%w: %q is not an apptainer filename", ErrInvalidImage, s)
	}
	return org, name, tag, nil
}
