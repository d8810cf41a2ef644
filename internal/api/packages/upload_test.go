package packages

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/pipeline"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/internal/storage/local"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test environment
// ---------------------------------------------------------------------------

type testEnv struct {
	router *gin.Engine
	store  storage.Storage
	ix     *index.Index
}

// newTestEnv wires the real pipeline, a local storage backend and the index
// behind the same routes the production router registers.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvLimit(t, 10<<20)
}

func newTestEnvLimit(t *testing.T, maxBytes int64) *testEnv {
	t.Helper()
	store, err := local.New(&config.LocalStorageConfig{
		BasePath:      t.TempDir(),
		ServeDirectly: true,
	}, "http://localhost:8080")
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}

	ix := index.New(100)
	pl := pipeline.New(store, ix, &config.UploadConfig{MaxSizeBytes: maxBytes}, nil)
	cfg := &config.Config{Storage: config.StorageConfig{DefaultBackend: "local"}}

	r := gin.New()
	r.POST("/upload", asUser("alice"), UploadHandler(pl))
	r.GET("/packages/:filename", DownloadHandler(ix, store, cfg))
	r.GET("/api/v1/packages", ListPackagesHandler(ix))
	r.GET("/api/v1/packages/:name", GetPackageHandler(ix))
	r.GET("/api/v1/search", SearchHandler(ix))
	r.GET("/api/v1/stats", StatsHandler(ix))
	return &testEnv{router: r, store: store, ix: ix}
}

// asUser stands in for the auth middleware, attaching an authenticated
// identity under the same context key.
func asUser(username string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("identity", &auth.Identity{UserID: "user-1", Username: username, Method: "token"})
	}
}

// ---------------------------------------------------------------------------
// Archive builders
// ---------------------------------------------------------------------------

func metadataRecord(name, version, summary string) string {
	record := "Metadata-Version: 2.1\nName: " + name + "\nVersion: " + version + "\n"
	if summary != "" {
		record += "Summary: " + summary + "\n"
	}
	return record + "Requires-Python: >=3.8\n\nTest package.\n"
}

func buildSdist(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		})
		if err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func buildWheel(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	zw.Close()
	return buf.Bytes()
}

func sdistFor(t *testing.T, name, version, summary string) []byte {
	t.Helper()
	return buildSdist(t, map[string]string{
		fmt.Sprintf("%s-%s/PKG-INFO", name, version): metadataRecord(name, version, summary),
		fmt.Sprintf("%s-%s/setup.py", name, version): "from setuptools import setup\nsetup()\n",
	})
}

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// buildUploadRequest constructs the multipart POST twine would send.
func buildUploadRequest(t *testing.T, filename string, data, signature []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("content", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	if signature != nil {
		sw, err := mw.CreateFormFile("gpg_signature", filename+".asc")
		if err != nil {
			t.Fatalf("create signature field: %v", err)
		}
		_, _ = sw.Write(signature)
	}
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doReq(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doGET(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

// mustUpload publishes an archive through the handler and fails the test on
// anything but 201.
func mustUpload(t *testing.T, env *testEnv, filename string, data, signature []byte) {
	t.Helper()
	w := doReq(env.router, buildUploadRequest(t, filename, data, signature))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload %s: status = %d, body: %s", filename, w.Code, w.Body.String())
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// UploadHandler tests
// ---------------------------------------------------------------------------

func TestUploadHandler_Success(t *testing.T) {
	env := newTestEnv(t)

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0.tar.gz",
		sdistFor(t, "demo", "1.0.0", "A demonstration package"), nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["package"] != "demo" {
		t.Errorf("package = %v, want demo", body["package"])
	}
	if body["version"] != "1.0.0" {
		t.Errorf("version = %v, want 1.0.0", body["version"])
	}
	if body["filename"] != "demo-1.0.0.tar.gz" {
		t.Errorf("filename = %v, want demo-1.0.0.tar.gz", body["filename"])
	}
	if sha, _ := body["sha256"].(string); len(sha) != 64 {
		t.Errorf("sha256 = %q, want 64 hex chars", body["sha256"])
	}

	f, err := env.ix.FindFile("demo-1.0.0.tar.gz")
	if err != nil {
		t.Fatalf("FindFile after upload: %v", err)
	}
	if f.UploadedBy != "alice" {
		t.Errorf("UploadedBy = %q, want alice (identity from auth middleware)", f.UploadedBy)
	}
}

func TestUploadHandler_WheelWithSignature(t *testing.T) {
	env := newTestEnv(t)
	wheel := buildWheel(t, map[string]string{
		"demo/__init__.py":              "",
		"demo-1.0.0.dist-info/METADATA": metadataRecord("demo", "1.0.0", ""),
		"demo-1.0.0.dist-info/WHEEL":    "Wheel-Version: 1.0\n",
	})
	sig := []byte("-----BEGIN PGP SIGNATURE-----\nfake\n-----END PGP SIGNATURE-----\n")

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0-py3-none-any.whl", wheel, sig))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	f, err := env.ix.FindFile("demo-1.0.0-py3-none-any.whl")
	if err != nil {
		t.Fatalf("FindFile: %v", err)
	}
	if !f.HasSignature {
		t.Error("HasSignature = false after signed upload")
	}
	if f.MetadataSHA256 == "" {
		t.Error("MetadataSHA256 empty, want extracted metadata digest")
	}
}

func TestUploadHandler_MissingContentField(t *testing.T) {
	env := newTestEnv(t)

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0.tar.gz", nil, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestUploadHandler_NotMultipart(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodPost, "/upload", strings.NewReader("not a form"))
	req.Header.Set("Content-Type", "application/json")
	w := doReq(env.router, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestUploadHandler_InvalidFilename(t *testing.T) {
	env := newTestEnv(t)

	w := doReq(env.router, buildUploadRequest(t, "notes.txt", []byte("plain text"), nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestUploadHandler_CorruptArchive(t *testing.T) {
	env := newTestEnv(t)

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0.tar.gz", []byte("not a tarball"), nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestUploadHandler_MetadataNameMismatch(t *testing.T) {
	env := newTestEnv(t)
	archive := buildSdist(t, map[string]string{
		"demo-1.0.0/PKG-INFO": metadataRecord("something-else", "1.0.0", ""),
	})

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0.tar.gz", archive, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestUploadHandler_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	archive := sdistFor(t, "demo", "1.0.0", "")
	mustUpload(t, env, "demo-1.0.0.tar.gz", archive, nil)

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0.tar.gz", archive, nil))
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409; body: %s", w.Code, w.Body.String())
	}
}

func TestUploadHandler_Oversize(t *testing.T) {
	env := newTestEnvLimit(t, 16)

	w := doReq(env.router, buildUploadRequest(t, "demo-1.0.0.tar.gz",
		bytes.Repeat([]byte("x"), 64), nil))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413; body: %s", w.Code, w.Body.String())
	}
}
