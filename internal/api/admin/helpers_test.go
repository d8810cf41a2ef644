package admin

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/bcrypt"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
)

// ---------------------------------------------------------------------------
// Column definitions (positional order must match Scan calls)
// ---------------------------------------------------------------------------

var userCols = []string{
	"id", "username", "email", "password_hash", "is_admin", "active",
	"last_login_at", "created_at", "updated_at",
}

var tokenCols = []string{
	"id", "user_id", "name", "token_prefix", "token_hash",
	"expires_at", "last_used_at", "created_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

// minCostHash keeps the bcrypt work factor out of the test runtime;
// CheckPassword reads the cost from the hash itself.
func minCostHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func userRow(t *testing.T, id, username, password string, isAdmin, active bool) *sqlmock.Rows {
	t.Helper()
	return sqlmock.NewRows(userCols).
		AddRow(id, username, username+"@example.com", minCostHash(t, password),
			isAdmin, active, nil, time.Now(), time.Now())
}

func tokenRow(id, userID, hash string) *sqlmock.Rows {
	return sqlmock.NewRows(tokenCols).
		AddRow(id, userID, "ci-token", "pypi-abcd", hash, nil, nil, time.Now())
}

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// withIdentity stands in for the auth middleware.
func withIdentity(identity *auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("identity", identity)
	}
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UserID: "user-1", Username: "alice", IsAdmin: true, Method: "token"}
}

func plainIdentity() *auth.Identity {
	return &auth.Identity{UserID: "user-1", Username: "alice", Method: "token"}
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// Archive builder for the rebuild test
// ---------------------------------------------------------------------------

func metadataRecord(name, version string) string {
	return "Metadata-Version: 2.1\nName: " + name + "\nVersion: " + version +
		"\n\nTest package.\n"
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
