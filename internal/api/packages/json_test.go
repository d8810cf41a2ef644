package packages

import (
	"net/http"
	"testing"
)

// seedRegistry publishes a small fixture set: demo with two versions and a
// second package whose summary mentions demo.
func seedRegistry(t *testing.T, env *testEnv) {
	t.Helper()
	mustUpload(t, env, "demo-1.0.0.tar.gz", sdistFor(t, "demo", "1.0.0", "A demonstration package"), nil)
	mustUpload(t, env, "demo-2.0.0.tar.gz", sdistFor(t, "demo", "2.0.0", "A demonstration package"), nil)
	mustUpload(t, env, "other-1.0.0.tar.gz", sdistFor(t, "other", "1.0.0", "Helpers for demo fixtures"), nil)
}

// ---------------------------------------------------------------------------
// ListPackagesHandler
// ---------------------------------------------------------------------------

func TestListPackagesHandler_Success(t *testing.T) {
	env := newTestEnv(t)
	seedRegistry(t, env)

	w := doGET(env.router, "/api/v1/packages")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if total, _ := body["total"].(float64); total != 2 {
		t.Errorf("total = %v, want 2", body["total"])
	}

	packages, _ := body["packages"].([]interface{})
	if len(packages) != 2 {
		t.Fatalf("packages length = %d, want 2", len(packages))
	}

	// ListPackages sorts by canonical name, so demo comes first.
	demo, _ := packages[0].(map[string]interface{})
	if demo["name"] != "demo" {
		t.Errorf("first package = %v, want demo", demo["name"])
	}
	if demo["latest_version"] != "2.0.0" {
		t.Errorf("latest_version = %v, want 2.0.0", demo["latest_version"])
	}
	if files, _ := demo["files"].(float64); files != 2 {
		t.Errorf("files = %v, want 2", demo["files"])
	}
}

func TestListPackagesHandler_Empty(t *testing.T) {
	env := newTestEnv(t)

	w := doGET(env.router, "/api/v1/packages")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	body := decodeBody(t, w)
	if total, _ := body["total"].(float64); total != 0 {
		t.Errorf("total = %v, want 0", body["total"])
	}
	if packages, ok := body["packages"].([]interface{}); !ok || len(packages) != 0 {
		t.Errorf("packages = %v, want an empty array, not null", body["packages"])
	}
}

// ---------------------------------------------------------------------------
// GetPackageHandler
// ---------------------------------------------------------------------------

func TestGetPackageHandler_Success(t *testing.T) {
	env := newTestEnv(t)
	seedRegistry(t, env)

	w := doGET(env.router, "/api/v1/packages/demo")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["name"] != "demo" {
		t.Errorf("name = %v, want demo", body["name"])
	}
	if body["latest_version"] != "2.0.0" {
		t.Errorf("latest_version = %v, want 2.0.0", body["latest_version"])
	}

	versions, _ := body["versions"].([]interface{})
	if len(versions) != 2 || versions[0] != "1.0.0" || versions[1] != "2.0.0" {
		t.Errorf("versions = %v, want [1.0.0 2.0.0] ascending", body["versions"])
	}

	releases, _ := body["releases"].(map[string]interface{})
	release, _ := releases["1.0.0"].(map[string]interface{})
	files, _ := release["files"].([]interface{})
	if len(files) != 1 {
		t.Fatalf("release 1.0.0 files = %v, want one entry", release["files"])
	}

	file, _ := files[0].(map[string]interface{})
	if file["filename"] != "demo-1.0.0.tar.gz" {
		t.Errorf("file filename = %v", file["filename"])
	}
	if sha, _ := file["sha256"].(string); len(sha) != 64 {
		t.Errorf("file sha256 = %q, want 64 hex chars", file["sha256"])
	}
	// Storage paths are internal and must not leak into API responses.
	if _, leaked := file["path"]; leaked {
		t.Error("file entry exposes the storage path")
	}
}

func TestGetPackageHandler_CanonicalizesName(t *testing.T) {
	env := newTestEnv(t)
	mustUpload(t, env, "demo_pkg-1.0.0.tar.gz", sdistFor(t, "Demo.Pkg", "1.0.0", ""), nil)

	// Any PEP 503 equivalent spelling resolves to the same package.
	w := doGET(env.router, "/api/v1/packages/Demo.Pkg")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["name"] != "demo-pkg" {
		t.Errorf("name = %v, want canonical demo-pkg", body["name"])
	}
}

func TestGetPackageHandler_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := doGET(env.router, "/api/v1/packages/absent")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// SearchHandler
// ---------------------------------------------------------------------------

func TestSearchHandler_RanksNameAboveSummary(t *testing.T) {
	env := newTestEnv(t)
	seedRegistry(t, env)

	w := doGET(env.router, "/api/v1/search?q=demo")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["query"] != "demo" {
		t.Errorf("query = %v, want demo", body["query"])
	}
	results, _ := body["results"].([]interface{})
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", body["results"])
	}

	first, _ := results[0].(map[string]interface{})
	second, _ := results[1].(map[string]interface{})
	if first["name"] != "demo" || second["name"] != "other" {
		t.Errorf("ranking = [%v %v], want name match before summary match",
			first["name"], second["name"])
	}
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	env := newTestEnv(t)

	w := doGET(env.router, "/api/v1/search")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearchHandler_NoMatches(t *testing.T) {
	env := newTestEnv(t)
	seedRegistry(t, env)

	w := doGET(env.router, "/api/v1/search?q=zzzz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if total, _ := body["total"].(float64); total != 0 {
		t.Errorf("total = %v, want 0", body["total"])
	}
}

// ---------------------------------------------------------------------------
// StatsHandler
// ---------------------------------------------------------------------------

func TestStatsHandler(t *testing.T) {
	env := newTestEnv(t)
	seedRegistry(t, env)

	w := doGET(env.router, "/api/v1/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if packages, _ := body["packages"].(float64); packages != 2 {
		t.Errorf("packages = %v, want 2", body["packages"])
	}
	if files, _ := body["files"].(float64); files != 3 {
		t.Errorf("files = %v, want 3", body["files"])
	}
	if bytes, _ := body["total_bytes"].(float64); bytes <= 0 {
		t.Errorf("total_bytes = %v, want > 0", body["total_bytes"])
	}
}
