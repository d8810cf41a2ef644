// Package metadata extracts the core metadata record (name, version, summary)
// out of uploaded distribution archives without executing anything they
// contain. Wheels carry the record at <name>-<version>.dist-info/METADATA
// inside a zip container; source distributions carry PKG-INFO inside a tar.gz.
// Extraction is pure, read-only parsing over an already size-checked buffer.
package metadata

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/pratikychavan/PyPI-clone/internal/pep440"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
)

// maxMetadataSize bounds how much of an embedded metadata record is read.
// Real records are a few KB; anything near this limit is hostile.
const maxMetadataSize = 8 * 1024 * 1024

var (
	// ErrCorruptArchive indicates the container itself could not be opened or
	// walked (bad zip/gzip/tar structure).
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrMissingMetadata indicates a structurally valid archive with no
	// metadata record where one is required.
	ErrMissingMetadata = errors.New("no metadata record found in archive")

	// ErrMetadataMismatch indicates the embedded metadata names a different
	// project or version than the filename encodes.
	ErrMetadataMismatch = errors.New("archive metadata does not match filename")
)

// Distribution is the extracted description of one uploaded archive.
type Distribution struct {
	// Name is the project name as spelled in the metadata record.
	Name string
	// Version is the canonical normalized version string.
	Version string
	// Parsed is the comparable form of Version.
	Parsed pep440.Version
	// Kind is the container format (wheel or sdist).
	Kind pypi.Kind

	Summary        string
	Description    string
	RequiresPython string

	// RawMetadata holds the unmodified bytes of the metadata record, served
	// alongside the artifact so installers can resolve dependencies without
	// downloading the whole archive.
	RawMetadata []byte
}

// CanonicalName returns the normalized unique key for the project.
func (d *Distribution) CanonicalName() string {
	return pypi.CanonicalizeName(d.Name)
}

// Extract locates and parses the metadata record inside data, then
// cross-checks it against the name and version encoded in the declared
// filename. The filename is not trusted as the source of truth once metadata
// is available, but both must agree.
func Extract(data []byte, filename string) (*Distribution, error) {
	fromName, err := pypi.ParseFilename(filename)
	if err != nil {
		return nil, err
	}

	var dist *Distribution
	switch fromName.Kind {
	case pypi.KindWheel:
		dist, err = extractWheel(data)
	case pypi.KindSdist:
		dist, err = extractSdist(data)
	default:
		return nil, fmt.Errorf("unsupported distribution kind %q", fromName.Kind)
	}
	if err != nil {
		return nil, err
	}
	dist.Kind = fromName.Kind

	if err := crossCheck(dist, fromName); err != nil {
		return nil, err
	}

	return dist, nil
}

// ParseRecord parses a bare metadata record, as stored in the .metadata
// sidecar next to each archive. Index rebuilds use it to repopulate the
// projection without re-reading the archives themselves. Kind is left unset;
// callers derive it from the filename.
func ParseRecord(raw []byte) (*Distribution, error) {
	return parseCoreMetadata(raw)
}

// crossCheck verifies that the filename-encoded name and version agree with
// the embedded metadata after normalization.
func crossCheck(dist *Distribution, fromName *pypi.Distribution) error {
	if pypi.CanonicalizeName(fromName.Name) != dist.CanonicalName() {
		return fmt.Errorf("%w: filename says %q, metadata says %q",
			ErrMetadataMismatch, fromName.Name, dist.Name)
	}

	nameVer, err := pep440.Parse(fromName.Version)
	if err != nil {
		return fmt.Errorf("invalid version in filename: %w", err)
	}
	if !pep440.Equal(nameVer, dist.Parsed) {
		return fmt.Errorf("%w: filename says version %q, metadata says %q",
			ErrMetadataMismatch, fromName.Version, dist.Version)
	}

	return nil
}

// extractWheel reads the METADATA record from a wheel's .dist-info directory.
// A wheel must contain exactly one top-level .dist-info directory.
func extractWheel(data []byte) (*Distribution, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	var metadataFile *zip.File
	distInfoDirs := make(map[string]bool)

	for _, f := range zr.File {
		parts := strings.SplitN(f.Name, "/", 2)
		if !strings.HasSuffix(parts[0], ".dist-info") {
			continue
		}
		distInfoDirs[parts[0]] = true
		if len(parts) == 2 && parts[1] == "METADATA" {
			metadataFile = f
		}
	}

	if len(distInfoDirs) > 1 {
		return nil, fmt.Errorf("%w: multiple .dist-info directories", ErrCorruptArchive)
	}
	if metadataFile == nil {
		return nil, ErrMissingMetadata
	}

	rc, err := metadataFile.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer rc.Close()

	raw, err := readBounded(rc)
	if err != nil {
		return nil, err
	}

	return parseCoreMetadata(raw)
}

// extractSdist reads the PKG-INFO record from a source distribution. When the
// archive contains several (some build backends duplicate it under .egg-info),
// the shallowest entry wins.
func extractSdist(data []byte) (*Distribution, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var raw []byte
	bestDepth := -1

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasSuffix(name, "PKG-INFO") {
			continue
		}

		depth := strings.Count(name, "/")
		if bestDepth != -1 && depth >= bestDepth {
			continue
		}

		content, err := readBounded(tr)
		if err != nil {
			return nil, err
		}
		raw = content
		bestDepth = depth
	}

	if raw == nil {
		return nil, ErrMissingMetadata
	}

	return parseCoreMetadata(raw)
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxMetadataSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if len(data) > maxMetadataSize {
		return nil, fmt.Errorf("%w: metadata record exceeds %d bytes", ErrCorruptArchive, maxMetadataSize)
	}
	return data, nil
}

// parseCoreMetadata parses the RFC 822-style header block of a METADATA or
// PKG-INFO record. Header parsing is deliberately lenient (the ecosystem's
// build backends produce slightly varied output): lines without a colon are
// skipped, continuation lines fold into the previous value, and everything
// after the first blank line is the long description.
func parseCoreMetadata(raw []byte) (*Distribution, error) {
	dist := &Distribution{RawMetadata: raw}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lastKey string
	headers := make(map[string]string)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// Blank line terminates the header block; the remainder is the
			// long description.
			var body bytes.Buffer
			for scanner.Scan() {
				body.WriteString(scanner.Text())
				body.WriteByte('\n')
			}
			dist.Description = strings.TrimRight(body.String(), "\n")
			break
		}

		if line[0] == ' ' || line[0] == '\t' {
			if lastKey != "" {
				headers[lastKey] += "\n" + strings.TrimLeft(line, " \t")
			}
			continue
		}

		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if _, seen := headers[key]; !seen {
			headers[key] = value
		}
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	dist.Name = headers["name"]
	dist.Summary = headers["summary"]
	dist.RequiresPython = headers["requires-python"]
	if dist.Description == "" {
		dist.Description = headers["description"]
	}

	if dist.Name == "" {
		return nil, fmt.Errorf("%w: missing Name field", ErrMissingMetadata)
	}
	if err := pypi.ValidateName(dist.Name); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	rawVersion := headers["version"]
	if rawVersion == "" {
		return nil, fmt.Errorf("%w: missing Version field", ErrMissingMetadata)
	}
	parsed, err := pep440.Parse(rawVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata version: %w", err)
	}
	dist.Parsed = parsed
	dist.Version = parsed.String()

	return dist, nil
}
