// Package index maintains the registry's in-memory projection of every
// published project and distribution file, and renders it as the HTML pages
// the pip "simple" protocol consumes.
//
// The projection is derived state: storage holds the archives and their
// sidecars, and the index can be rebuilt from a storage walk at any time
// (startup, or on demand through the admin API). Mutations therefore write
// storage first where they must survive a restart — yank markers are sidecar
// objects, not index fields.
//
// Locking: a global RWMutex guards the package map, and each Package carries
// its own RWMutex, so readers of one package never block on a writer of
// another. Read accessors return detached snapshots; callers never touch live
// entries.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pratikychavan/PyPI-clone/internal/pep440"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
)

var (
	// ErrPackageNotFound is returned when no project with the requested
	// canonical name is in the index.
	ErrPackageNotFound = errors.New("package not found")

	// ErrVersionNotFound is returned when the project exists but has no
	// release with the requested version.
	ErrVersionNotFound = errors.New("version not found")

	// ErrFileNotFound is returned when no distribution file with the
	// requested filename is in the index.
	ErrFileNotFound = errors.New("file not found")
)

// File describes one published distribution file.
type File struct {
	Filename string `json:"filename"`

	// Path is the storage key of the archive; not exposed over the API.
	Path string `json:"-"`

	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`

	// MD5 is kept for installers that still compare the legacy digest. It is
	// computed at upload time and may be empty after a rebuild, which reads
	// sidecars instead of whole archives.
	MD5 string `json:"md5,omitempty"`

	// MetadataSHA256 is the digest of the extracted metadata sidecar, used
	// for the PEP 658 attributes. Empty when no sidecar exists.
	MetadataSHA256 string `json:"metadata_sha256,omitempty"`

	RequiresPython string `json:"requires_python,omitempty"`
	HasSignature   bool   `json:"has_signature,omitempty"`

	UploadedBy string    `json:"uploaded_by,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`

	Yanked       bool   `json:"yanked,omitempty"`
	YankedReason string `json:"yanked_reason,omitempty"`
}

// Release groups the files published under one normalized version.
type Release struct {
	Version string  `json:"version"`
	Files   []*File `json:"files"`

	// parsed is the comparable form of Version, set when the release is
	// created so ordering never re-parses
	parsed pep440.Version
}

// Package is one project in the index. Live entries are guarded by mu;
// snapshots returned from accessors carry a zero mutex and are safe to use
// without locking.
type Package struct {
	mu sync.RWMutex

	// Name is the canonical (PEP 503 normalized) project name
	Name string `json:"name"`

	// DisplayName is the spelling from the metadata of the greatest
	// registered version
	DisplayName string `json:"display_name"`

	Summary  string              `json:"summary,omitempty"`
	Releases map[string]*Release `json:"releases"`

	// displayVersion tracks which release currently supplies DisplayName and
	// Summary. Keyed to the pep440-greatest version so the result does not
	// depend on registration order.
	displayVersion pep440.Version
	hasDisplay     bool
}

// Stats summarizes the size of the index.
type Stats struct {
	Packages   int   `json:"packages"`
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// Index is the in-memory projection. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	packages map[string]*Package

	fileCount atomic.Int64

	maxSearchResults int
}

// New creates an empty index. maxSearchResults caps Search output; values
// below one fall back to 100.
func New(maxSearchResults int) *Index {
	if maxSearchResults < 1 {
		maxSearchResults = 100
	}
	return &Index{
		packages:         make(map[string]*Package),
		maxSearchResults: maxSearchResults,
	}
}

// Register adds a distribution file to the index. project is the display
// spelling from the archive metadata, version the normalized version string.
// Registering a filename that is already present replaces its entry, so the
// operation is idempotent per filename.
func (ix *Index) Register(project, version, summary string, file File) {
	ix.register(project, version, summary, file, true)
}

func (ix *Index) register(project, version, summary string, file File, updateGauges bool) {
	name := pypi.CanonicalizeName(project)

	ix.mu.RLock()
	pkg, ok := ix.packages[name]
	ix.mu.RUnlock()

	if !ok {
		ix.mu.Lock()
		pkg, ok = ix.packages[name]
		if !ok {
			pkg = &Package{
				Name:        name,
				DisplayName: project,
				Releases:    make(map[string]*Release),
			}
			ix.packages[name] = pkg
		}
		projects := len(ix.packages)
		ix.mu.Unlock()
		if updateGauges {
			telemetry.IndexProjects.Set(float64(projects))
		}
	}

	parsed, err := pep440.Parse(version)
	if err != nil {
		// Callers pass versions that already went through pep440
		// normalization, so this only fires on a programming error upstream.
		slog.Warn("registering file with unparseable version", "project", project, "version", version)
	}

	pkg.mu.Lock()
	rel, ok := pkg.Releases[version]
	if !ok {
		rel = &Release{Version: version, parsed: parsed}
		pkg.Releases[version] = rel
	}

	added := true
	for i, f := range rel.Files {
		if f.Filename == file.Filename {
			rel.Files[i] = &file
			added = false
			break
		}
	}
	if added {
		rel.Files = append(rel.Files, &file)
	}

	// The greatest registered version supplies the project's display spelling
	// and summary, independent of registration order.
	if !pkg.hasDisplay || !pep440.Less(parsed, pkg.displayVersion) {
		pkg.DisplayName = project
		pkg.Summary = summary
		pkg.displayVersion = parsed
		pkg.hasDisplay = true
	}
	pkg.mu.Unlock()

	if added {
		total := ix.fileCount.Add(1)
		if updateGauges {
			telemetry.IndexFiles.Set(float64(total))
		}
	}
}

// ListPackages returns the canonical names of all indexed projects, sorted.
func (ix *Index) ListPackages() []string {
	ix.mu.RLock()
	names := make([]string, 0, len(ix.packages))
	for name := range ix.packages {
		names = append(names, name)
	}
	ix.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Project returns a snapshot of one project. name may be any spelling; it is
// canonicalized before lookup.
func (ix *Index) Project(name string) (*Package, error) {
	canonical := pypi.CanonicalizeName(name)

	ix.mu.RLock()
	pkg, ok := ix.packages[canonical]
	ix.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, canonical)
	}

	pkg.mu.RLock()
	defer pkg.mu.RUnlock()
	return pkg.snapshotLocked(), nil
}

// snapshotLocked deep-copies the package. Callers must hold pkg.mu.
func (pkg *Package) snapshotLocked() *Package {
	out := &Package{
		Name:           pkg.Name,
		DisplayName:    pkg.DisplayName,
		Summary:        pkg.Summary,
		Releases:       make(map[string]*Release, len(pkg.Releases)),
		displayVersion: pkg.displayVersion,
		hasDisplay:     pkg.hasDisplay,
	}
	for version, rel := range pkg.Releases {
		files := make([]*File, len(rel.Files))
		for i, f := range rel.Files {
			c := *f
			files[i] = &c
		}
		out.Releases[version] = &Release{Version: rel.Version, Files: files, parsed: rel.parsed}
	}
	return out
}

// ListVersions returns the project's versions in ascending pep440 order.
func (ix *Index) ListVersions(name string) ([]string, error) {
	pkg, err := ix.Project(name)
	if err != nil {
		return nil, err
	}
	return pkg.sortedVersions(), nil
}

// sortedVersions returns the release versions in ascending pep440 order.
// Only safe on snapshots.
func (pkg *Package) sortedVersions() []string {
	rels := make([]*Release, 0, len(pkg.Releases))
	for _, rel := range pkg.Releases {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		return pep440.Less(rels[i].parsed, rels[j].parsed)
	})

	versions := make([]string, len(rels))
	for i, rel := range rels {
		versions[i] = rel.Version
	}
	return versions
}

// FindFile locates a distribution file by its filename alone. The project and
// version are recovered from the filename itself, so download handlers need
// nothing but the request path.
func (ix *Index) FindFile(filename string) (*File, error) {
	dist, err := pypi.ParseFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	parsed, err := pep440.Parse(dist.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}

	ix.mu.RLock()
	pkg, ok := ix.packages[pypi.CanonicalizeName(dist.Name)]
	ix.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}

	pkg.mu.RLock()
	defer pkg.mu.RUnlock()
	if rel, ok := pkg.Releases[parsed.String()]; ok {
		for _, f := range rel.Files {
			if f.Filename == filename {
				c := *f
				return &c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
}

// Stats reports project/file counts and total stored bytes.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	pkgs := make([]*Package, 0, len(ix.packages))
	for _, pkg := range ix.packages {
		pkgs = append(pkgs, pkg)
	}
	ix.mu.RUnlock()

	st := Stats{Packages: len(pkgs)}
	for _, pkg := range pkgs {
		pkg.mu.RLock()
		for _, rel := range pkg.Releases {
			st.Files += len(rel.Files)
			for _, f := range rel.Files {
				st.TotalBytes += f.Size
			}
		}
		pkg.mu.RUnlock()
	}
	return st
}
