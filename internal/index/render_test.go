package index

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderSimpleIndex(t *testing.T) {
	ix := newTestIndex()
	ix.Register("zeta", "1.0", "", testFile("zeta-1.0.tar.gz", "a", 1))
	ix.Register("Alpha_Pkg", "1.0", "", testFile("alpha_pkg-1.0.tar.gz", "b", 1))

	html, err := ix.RenderSimpleIndex()
	if err != nil {
		t.Fatalf("RenderSimpleIndex() error: %v", err)
	}

	if !strings.Contains(html, `<a href="/simple/alpha-pkg/">alpha-pkg</a>`) {
		t.Errorf("missing canonical anchor for alpha-pkg:\n%s", html)
	}
	if !strings.Contains(html, `<a href="/simple/zeta/">zeta</a>`) {
		t.Errorf("missing anchor for zeta:\n%s", html)
	}
	if strings.Index(html, "alpha-pkg") > strings.Index(html, "zeta") {
		t.Error("anchors are not sorted by canonical name")
	}
	if !strings.Contains(html, `pypi:repository-version`) {
		t.Error("missing repository-version meta tag")
	}
}

func TestRenderSimpleIndex_Empty(t *testing.T) {
	ix := newTestIndex()
	html, err := ix.RenderSimpleIndex()
	if err != nil {
		t.Fatalf("RenderSimpleIndex() error: %v", err)
	}
	if strings.Contains(html, "<a ") {
		t.Errorf("empty index rendered anchors:\n%s", html)
	}
}

func TestRenderProjectPage(t *testing.T) {
	ix := newTestIndex()
	ix.Register("demo", "1.0.0", "Demo", File{
		Filename:       "demo-1.0.0.tar.gz",
		Path:           "packages/demo/demo-1.0.0.tar.gz",
		SHA256:         "feedface",
		RequiresPython: ">=3.8",
	})

	html, err := ix.RenderProjectPage("demo")
	if err != nil {
		t.Fatalf("RenderProjectPage() error: %v", err)
	}

	if !strings.Contains(html, `href="/packages/demo-1.0.0.tar.gz#sha256=feedface"`) {
		t.Errorf("missing href with sha256 fragment:\n%s", html)
	}
	if !strings.Contains(html, `>demo-1.0.0.tar.gz</a>`) {
		t.Errorf("missing filename anchor text:\n%s", html)
	}
	// html/template escapes the attribute value; pip unescapes on parse.
	if !strings.Contains(html, `data-requires-python="&gt;=3.8"`) {
		t.Errorf("missing HTML-escaped data-requires-python:\n%s", html)
	}
	if !strings.Contains(html, "<h1>Links for demo</h1>") {
		t.Errorf("missing page heading:\n%s", html)
	}
}

func TestRenderProjectPage_MetadataAttributes(t *testing.T) {
	ix := newTestIndex()
	ix.Register("demo", "1.0.0", "", File{
		Filename:       "demo-1.0.0-py3-none-any.whl",
		SHA256:         "aaa",
		MetadataSHA256: "bbb",
	})
	ix.Register("demo", "1.0.0", "", File{
		Filename: "demo-1.0.0.tar.gz",
		SHA256:   "ccc",
	})

	html, err := ix.RenderProjectPage("demo")
	if err != nil {
		t.Fatalf("RenderProjectPage() error: %v", err)
	}

	// Both the historical and the renamed attribute carry the digest.
	if !strings.Contains(html, `data-dist-info-metadata="sha256=bbb"`) {
		t.Errorf("missing data-dist-info-metadata:\n%s", html)
	}
	if !strings.Contains(html, `data-core-metadata="sha256=bbb"`) {
		t.Errorf("missing data-core-metadata:\n%s", html)
	}

	// The sdist has no sidecar, so its anchor must not claim one.
	sdistAnchor := anchorFor(html, "demo-1.0.0.tar.gz")
	if strings.Contains(sdistAnchor, "data-core-metadata") {
		t.Errorf("sdist anchor claims a metadata sidecar:\n%s", sdistAnchor)
	}
}

func TestRenderProjectPage_YankedAttribute(t *testing.T) {
	ix := newTestIndex()
	ix.Register("demo", "1.0.0", "", File{
		Filename:     "demo-1.0.0.tar.gz",
		SHA256:       "aaa",
		Yanked:       true,
		YankedReason: "broken metadata",
	})
	ix.Register("demo", "2.0.0", "", File{
		Filename: "demo-2.0.0.tar.gz",
		SHA256:   "bbb",
	})

	html, err := ix.RenderProjectPage("demo")
	if err != nil {
		t.Fatalf("RenderProjectPage() error: %v", err)
	}

	yankedAnchor := anchorFor(html, "demo-1.0.0.tar.gz")
	if !strings.Contains(yankedAnchor, `data-yanked="broken metadata"`) {
		t.Errorf("yanked anchor missing data-yanked with reason:\n%s", yankedAnchor)
	}
	currentAnchor := anchorFor(html, "demo-2.0.0.tar.gz")
	if strings.Contains(currentAnchor, "data-yanked") {
		t.Errorf("non-yanked anchor carries data-yanked:\n%s", currentAnchor)
	}
}

func TestRenderProjectPage_SignatureAttribute(t *testing.T) {
	ix := newTestIndex()
	ix.Register("demo", "1.0.0", "", File{
		Filename:     "demo-1.0.0.tar.gz",
		SHA256:       "aaa",
		HasSignature: true,
	})

	html, err := ix.RenderProjectPage("demo")
	if err != nil {
		t.Fatalf("RenderProjectPage() error: %v", err)
	}
	if !strings.Contains(html, `data-gpg-sig="true"`) {
		t.Errorf("missing data-gpg-sig for signed file:\n%s", html)
	}
}

func TestRenderProjectPage_Ordering(t *testing.T) {
	ix := newTestIndex()
	// Registered deliberately out of order.
	ix.Register("demo", "2.0.0", "", File{Filename: "demo-2.0.0.tar.gz", SHA256: "d"})
	ix.Register("demo", "1.0.0", "", File{Filename: "demo-1.0.0.tar.gz", SHA256: "b"})
	ix.Register("demo", "1.0.0", "", File{Filename: "demo-1.0.0-py3-none-any.whl", SHA256: "a"})
	ix.Register("demo", "2.0.0", "", File{Filename: "demo-2.0.0-py3-none-any.whl", SHA256: "c"})

	html, err := ix.RenderProjectPage("demo")
	if err != nil {
		t.Fatalf("RenderProjectPage() error: %v", err)
	}

	want := []string{
		"demo-1.0.0-py3-none-any.whl",
		"demo-1.0.0.tar.gz",
		"demo-2.0.0-py3-none-any.whl",
		"demo-2.0.0.tar.gz",
	}
	last := -1
	for _, filename := range want {
		pos := strings.Index(html, ">"+filename+"<")
		if pos < 0 {
			t.Fatalf("anchor for %s not found:\n%s", filename, html)
		}
		if pos < last {
			t.Errorf("anchor for %s out of order (version asc, then filename)", filename)
		}
		last = pos
	}
}

func TestRenderProjectPage_NotFound(t *testing.T) {
	ix := newTestIndex()
	_, err := ix.RenderProjectPage("ghost")
	if !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("RenderProjectPage() error = %v, want ErrPackageNotFound", err)
	}
}

// anchorFor returns the <a ...>...</a> element whose text is the filename.
func anchorFor(html, filename string) string {
	end := strings.Index(html, ">"+filename+"</a>")
	if end < 0 {
		return ""
	}
	start := strings.LastIndex(html[:end], "<a ")
	if start < 0 {
		return ""
	}
	return html[start : end+len(filename)+5]
}
