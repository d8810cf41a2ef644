// filename.go parses distribution filenames: the wheel naming convention and
// the name-version.tar.gz convention used by source distributions.
package pypi

import (
	"fmt"
	"strings"
)

// Kind identifies the container format of a distribution file.
type Kind string

const (
	// KindWheel is a built distribution (.whl, a zip container).
	KindWheel Kind = "wheel"
	// KindSdist is a source distribution (.tar.gz).
	KindSdist Kind = "sdist"
)

// Distribution holds the fields encoded in a distribution filename.
// Name and Version are the raw spellings from the filename; callers
// canonicalize the name and parse the version as needed.
type Distribution struct {
	Name    string
	Version string
	Kind    Kind
}

// ParseFilename decodes a distribution filename into its name, version, and
// container kind. Wheel filenames follow
// name-version(-build)?-python-abi-platform.whl where every field escapes
// internal punctuation to underscores, so splitting on '-' yields exactly five
// or six fields. Source distributions are name-version.tar.gz where the
// version is the segment after the final '-' (normalized versions never
// contain one).
func ParseFilename(filename string) (*Distribution, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsAny(filename, "/\\") {
		return nil, fmt.Errorf("invalid filename %q: must not contain path separators", filename)
	}
	if strings.HasPrefix(filename, ".") {
		return nil, fmt.Errorf("invalid filename %q: must not start with '.'", filename)
	}

	switch {
	case strings.HasSuffix(filename, ".whl"):
		return parseWheelFilename(filename)
	case strings.HasSuffix(filename, ".tar.gz"):
		return parseSdistFilename(filename)
	default:
		return nil, fmt.Errorf("unsupported file type %q: only .whl and .tar.gz are accepted", filename)
	}
}

func parseWheelFilename(filename string) (*Distribution, error) {
	stem := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(stem, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, fmt.Errorf("invalid wheel filename %q: expected name-version(-build)?-python-abi-platform.whl", filename)
	}
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid wheel filename %q: empty field at position %d", filename, i)
		}
	}

	return &Distribution{
		Name:    parts[0],
		Version: parts[1],
		Kind:    KindWheel,
	}, nil
}

func parseSdistFilename(filename string) (*Distribution, error) {
	stem := strings.TrimSuffix(filename, ".tar.gz")
	i := strings.LastIndex(stem, "-")
	if i <= 0 || i == len(stem)-1 {
		return nil, fmt.Errorf("invalid sdist filename %q: expected name-version.tar.gz", filename)
	}

	return &Distribution{
		Name:    stem[:i],
		Version: stem[i+1:],
		Kind:    KindSdist,
	}, nil
}
