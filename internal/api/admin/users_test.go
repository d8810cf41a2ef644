package admin

import (
	"net/http"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
	"github.com/pratikychavan/PyPI-clone/internal/config"
)

func newUsersRouter(t *testing.T, identity *auth.Identity) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, _ := sqlmock.New()
	t.Cleanup(func() { db.Close() })

	h := NewUserHandlers(&config.Config{}, db)
	r := gin.New()
	grp := r.Group("/api/v1/admin", withIdentity(identity))
	grp.GET("/users", h.ListUsersHandler())
	grp.POST("/users", h.CreateUserHandler())
	grp.POST("/users/:username/deactivate", h.DeactivateUserHandler())
	grp.POST("/users/:username/activate", h.ActivateUserHandler())
	return mock, r
}

// ---------------------------------------------------------------------------
// ListUsersHandler
// ---------------------------------------------------------------------------

func TestListUsersHandler_Success(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	rows := sqlmock.NewRows(userCols).
		AddRow("user-1", "alice", "alice@example.com", "$2a$04$hash", true, true, nil, time.Now(), time.Now()).
		AddRow("user-2", "bob", "bob@example.com", "$2a$04$hash", false, true, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT.*FROM users.*ORDER BY created_at").WillReturnRows(rows)

	w := doJSON(r, http.MethodGet, "/api/v1/admin/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	users, _ := body["users"].([]interface{})
	if len(users) != 2 {
		t.Fatalf("users = %v, want 2 entries", body["users"])
	}
	pagination, _ := body["pagination"].(map[string]interface{})
	if total, _ := pagination["total"].(float64); total != 2 {
		t.Errorf("pagination.total = %v, want 2", pagination["total"])
	}

	// The hash must never appear anywhere in the response.
	if strings.Contains(w.Body.String(), "hash") {
		t.Error("response leaks the password hash")
	}
}

func TestListUsersHandler_DBError(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	w := doJSON(r, http.MethodGet, "/api/v1/admin/users", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CreateUserHandler
// ---------------------------------------------------------------------------

func TestCreateUserHandler_Success(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users",
		`{"username":"bob","email":"bob@example.com","password":"longenough"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	user, _ := body["user"].(map[string]interface{})
	if user["username"] != "bob" {
		t.Errorf("username = %v, want bob", user["username"])
	}
	if user["active"] != true {
		t.Errorf("active = %v, new accounts start active", user["active"])
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Error("response leaks the password hash")
	}
}

func TestCreateUserHandler_UsernameTaken(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(userRow(t, "user-2", "bob", "whatever", false, true))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users",
		`{"username":"bob","email":"bob@example.com","password":"longenough"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCreateUserHandler_ShortPassword(t *testing.T) {
	_, r := newUsersRouter(t, adminIdentity())

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users",
		`{"username":"bob","email":"bob@example.com","password":"short"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateUserHandler_InvalidEmail(t *testing.T) {
	_, r := newUsersRouter(t, adminIdentity())

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users",
		`{"username":"bob","email":"not-an-email","password":"longenough"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Deactivate / Activate
// ---------------------------------------------------------------------------

func TestDeactivateUserHandler_Success(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(userRow(t, "user-2", "bob", "whatever", false, true))
	mock.ExpectExec("UPDATE users.*SET active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users/bob/deactivate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeactivateUserHandler_Self(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	// The target row resolves to the caller's own user ID.
	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(userRow(t, "user-1", "alice", "whatever", true, true))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users/alice/deactivate", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for self-deactivation", w.Code)
	}
}

func TestDeactivateUserHandler_NotFound(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(sqlmock.NewRows(userCols))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users/ghost/deactivate", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestActivateUserHandler_Success(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(userRow(t, "user-2", "bob", "whatever", false, false))
	mock.ExpectExec("UPDATE users.*SET active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users/bob/activate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	if body["message"] != "User activated successfully" {
		t.Errorf("message = %v", body["message"])
	}
}

// Reactivating your own account is allowed; only deactivation has the guard.
func TestActivateUserHandler_SelfAllowed(t *testing.T) {
	mock, r := newUsersRouter(t, adminIdentity())

	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WillReturnRows(userRow(t, "user-1", "alice", "whatever", true, false))
	mock.ExpectExec("UPDATE users.*SET active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodPost, "/api/v1/admin/users/alice/activate", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
