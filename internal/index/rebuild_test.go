package index

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pratikychavan/PyPI-clone/internal/metadata"
	"github.com/pratikychavan/PyPI-clone/internal/pep440"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

func uploadObject(t *testing.T, store storage.Storage, path string, content []byte) {
	t.Helper()
	_, err := store.Upload(context.Background(), path, bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload(%s): %v", path, err)
	}
}

// record builds a minimal core metadata record the sidecar parser accepts.
func record(name, version, summary, requiresPython string) []byte {
	var b strings.Builder
	b.WriteString("Metadata-Version: 2.1\n")
	b.WriteString("Name: " + name + "\n")
	b.WriteString("Version: " + version + "\n")
	if summary != "" {
		b.WriteString("Summary: " + summary + "\n")
	}
	if requiresPython != "" {
		b.WriteString("Requires-Python: " + requiresPython + "\n")
	}
	b.WriteString("\nLong description.\n")
	return []byte(b.String())
}

func TestRebuild_FromSidecars(t *testing.T) {
	store := newTestStore(t)

	archive := []byte("sdist-bytes")
	rec := record("Demo-Pkg", "1.0.0", "A demo project", ">=3.8")
	uploadObject(t, store, "packages/demo-pkg/demo_pkg-1.0.0.tar.gz", archive)
	uploadObject(t, store, "packages/demo-pkg/demo_pkg-1.0.0.tar.gz.metadata", rec)

	other := []byte("other-bytes")
	uploadObject(t, store, "packages/other/other-0.2.tar.gz", other)
	uploadObject(t, store, "packages/other/other-0.2.tar.gz.metadata", record("other", "0.2", "", ""))

	ix := newTestIndex()
	if err := ix.Rebuild(context.Background(), store, metadata.Extract); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	names := ix.ListPackages()
	if len(names) != 2 || names[0] != "demo-pkg" || names[1] != "other" {
		t.Fatalf("ListPackages() = %v, want [demo-pkg other]", names)
	}

	pkg, err := ix.Project("demo-pkg")
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	if pkg.DisplayName != "Demo-Pkg" {
		t.Errorf("DisplayName = %q, want the metadata spelling", pkg.DisplayName)
	}
	if pkg.Summary != "A demo project" {
		t.Errorf("Summary = %q, want the record summary", pkg.Summary)
	}

	f := pkg.Releases["1.0.0"].Files[0]
	if f.SHA256 != checksum.SHA256Bytes(archive) {
		t.Errorf("SHA256 = %q, want digest of the stored archive", f.SHA256)
	}
	if f.Size != int64(len(archive)) {
		t.Errorf("Size = %d, want %d", f.Size, len(archive))
	}
	if f.MetadataSHA256 != checksum.SHA256Bytes(rec) {
		t.Errorf("MetadataSHA256 = %q, want digest of the sidecar", f.MetadataSHA256)
	}
	if f.RequiresPython != ">=3.8" {
		t.Errorf("RequiresPython = %q, want the record value", f.RequiresPython)
	}
	if f.UploadedAt.IsZero() {
		t.Error("UploadedAt not populated from storage")
	}
}

func TestRebuild_MatchesIncrementalProjection(t *testing.T) {
	store := newTestStore(t)

	archive := []byte("wheel-bytes")
	rec := record("demo", "1.0.0", "Demo project", ">=3.8")
	uploadObject(t, store, "packages/demo/demo-1.0.0-py3-none-any.whl", archive)
	uploadObject(t, store, "packages/demo/demo-1.0.0-py3-none-any.whl.metadata", rec)

	// The projection a live upload would have produced.
	live := newTestIndex()
	live.Register("demo", "1.0.0", "Demo project", File{
		Filename:       "demo-1.0.0-py3-none-any.whl",
		Path:           "packages/demo/demo-1.0.0-py3-none-any.whl",
		Size:           int64(len(archive)),
		SHA256:         checksum.SHA256Bytes(archive),
		MetadataSHA256: checksum.SHA256Bytes(rec),
		RequiresPython: ">=3.8",
	})

	rebuilt := newTestIndex()
	if err := rebuilt.Rebuild(context.Background(), store, metadata.Extract); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	liveIndex, err := live.RenderSimpleIndex()
	if err != nil {
		t.Fatal(err)
	}
	rebuiltIndex, err := rebuilt.RenderSimpleIndex()
	if err != nil {
		t.Fatal(err)
	}
	if liveIndex != rebuiltIndex {
		t.Errorf("simple index differs after rebuild:\nlive:\n%s\nrebuilt:\n%s", liveIndex, rebuiltIndex)
	}

	livePage, err := live.RenderProjectPage("demo")
	if err != nil {
		t.Fatal(err)
	}
	rebuiltPage, err := rebuilt.RenderProjectPage("demo")
	if err != nil {
		t.Fatal(err)
	}
	if livePage != rebuiltPage {
		t.Errorf("project page differs after rebuild:\nlive:\n%s\nrebuilt:\n%s", livePage, rebuiltPage)
	}
}

func TestRebuild_FallbackExtraction(t *testing.T) {
	store := newTestStore(t)
	archive := []byte("archive-without-sidecar")
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz", archive)

	var extractedFilename string
	extract := func(data []byte, filename string) (*metadata.Distribution, error) {
		extractedFilename = filename
		if !bytes.Equal(data, archive) {
			t.Error("extraction fallback received different bytes than stored")
		}
		return &metadata.Distribution{
			Name:           "demo",
			Version:        "1.0.0",
			Parsed:         pep440.MustParse("1.0.0"),
			Summary:        "Recovered summary",
			RequiresPython: ">=3.9",
		}, nil
	}

	ix := newTestIndex()
	if err := ix.Rebuild(context.Background(), store, extract); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	if extractedFilename != "demo-1.0.0.tar.gz" {
		t.Errorf("fallback called with filename %q", extractedFilename)
	}

	pkg, err := ix.Project("demo")
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	f := pkg.Releases["1.0.0"].Files[0]
	if f.SHA256 != checksum.SHA256Bytes(archive) {
		t.Errorf("SHA256 = %q, want digest of the archive", f.SHA256)
	}
	if f.MD5 != checksum.MD5Bytes(archive) {
		t.Errorf("MD5 = %q, want digest computed during fallback", f.MD5)
	}
	if f.MetadataSHA256 != "" {
		t.Errorf("MetadataSHA256 = %q, want empty without a sidecar", f.MetadataSHA256)
	}
	if pkg.Summary != "Recovered summary" {
		t.Errorf("Summary = %q, want the extracted summary", pkg.Summary)
	}
}

func TestRebuild_SkipsUninterpretableObjects(t *testing.T) {
	store := newTestStore(t)

	// Good object.
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz", []byte("ok"))
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz.metadata", record("demo", "1.0.0", "", ""))

	// Unparseable filename.
	uploadObject(t, store, "packages/demo/README.txt", []byte("not a distribution"))

	// Corrupt sidecar.
	uploadObject(t, store, "packages/bad/bad-1.0.0.tar.gz", []byte("bytes"))
	uploadObject(t, store, "packages/bad/bad-1.0.0.tar.gz.metadata", []byte("no headers here"))

	// Sidecar that contradicts the filename version.
	uploadObject(t, store, "packages/drift/drift-2.0.0.tar.gz", []byte("bytes"))
	uploadObject(t, store, "packages/drift/drift-2.0.0.tar.gz.metadata", record("drift", "1.0.0", "", ""))

	ix := newTestIndex()
	if err := ix.Rebuild(context.Background(), store, nil); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	names := ix.ListPackages()
	if len(names) != 1 || names[0] != "demo" {
		t.Errorf("ListPackages() = %v, want only the interpretable project", names)
	}
}

func TestRebuild_RestoresYankMarker(t *testing.T) {
	store := newTestStore(t)

	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz", []byte("bytes"))
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz.metadata", record("demo", "1.0.0", "", ""))
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz.yanked", []byte("security fix"))

	ix := newTestIndex()
	if err := ix.Rebuild(context.Background(), store, nil); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	pkg, err := ix.Project("demo")
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	f := pkg.Releases["1.0.0"].Files[0]
	if !f.Yanked {
		t.Error("yank marker not restored")
	}
	if f.YankedReason != "security fix" {
		t.Errorf("YankedReason = %q, want the marker content", f.YankedReason)
	}
}

func TestRebuild_RestoresSignatureFlag(t *testing.T) {
	store := newTestStore(t)

	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz", []byte("bytes"))
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz.metadata", record("demo", "1.0.0", "", ""))
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz.asc", []byte("-----BEGIN PGP SIGNATURE-----"))

	ix := newTestIndex()
	if err := ix.Rebuild(context.Background(), store, nil); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	f, err := ix.FindFile("demo-1.0.0.tar.gz")
	if err != nil {
		t.Fatalf("FindFile() error: %v", err)
	}
	if !f.HasSignature {
		t.Error("signature sidecar did not set HasSignature")
	}
}

func TestRebuild_ReplacesPreviousProjection(t *testing.T) {
	store := newTestStore(t)
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz", []byte("bytes"))
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz.metadata", record("demo", "1.0.0", "", ""))

	ix := newTestIndex()
	ix.Register("stale", "0.1", "", testFile("stale-0.1.tar.gz", "x", 1))

	if err := ix.Rebuild(context.Background(), store, nil); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}

	if _, err := ix.Project("stale"); !errors.Is(err, ErrPackageNotFound) {
		t.Error("stale project survived the rebuild")
	}
	if _, err := ix.Project("demo"); err != nil {
		t.Errorf("rebuilt project missing: %v", err)
	}
}

func TestRebuild_ContextCancelled(t *testing.T) {
	store := newTestStore(t)
	uploadObject(t, store, "packages/demo/demo-1.0.0.tar.gz", []byte("bytes"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := newTestIndex()
	if err := ix.Rebuild(ctx, store, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Rebuild() error = %v, want context.Canceled", err)
	}
}
