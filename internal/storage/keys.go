// keys.go defines the object key layout shared by every backend. All of a
// project's files live under packages/<canonical-name>/, with the extracted
// metadata record, optional detached signature, and yank marker stored as
// sidecars next to the archive itself.
package storage

import "strings"

const packagesPrefix = "packages/"

// ObjectPath returns the storage key for a distribution file.
func ObjectPath(canonicalName, filename string) string {
	return packagesPrefix + canonicalName + "/" + filename
}

// MetadataPath returns the storage key of the extracted metadata sidecar for
// a distribution file.
func MetadataPath(canonicalName, filename string) string {
	return ObjectPath(canonicalName, filename) + ".metadata"
}

// SignaturePath returns the storage key of the detached GPG signature for a
// distribution file.
func SignaturePath(canonicalName, filename string) string {
	return ObjectPath(canonicalName, filename) + ".asc"
}

// YankPath returns the storage key of the yank marker for a distribution
// file. The marker's content is the yank reason, possibly empty. Yank state
// lives in storage so it survives index rebuilds.
func YankPath(canonicalName, filename string) string {
	return ObjectPath(canonicalName, filename) + ".yanked"
}

// SplitObjectPath splits a storage key into the canonical project name and
// filename. Reports false for keys outside the packages/ layout.
func SplitObjectPath(path string) (canonicalName, filename string, ok bool) {
	if !strings.HasPrefix(path, packagesPrefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, packagesPrefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// PackagePrefix returns the key prefix holding all of a project's files.
func PackagePrefix(canonicalName string) string {
	return packagesPrefix + canonicalName + "/"
}

// AllPackagesPrefix returns the key prefix holding every project's files.
func AllPackagesPrefix() string {
	return packagesPrefix
}
