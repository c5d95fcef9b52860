package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIsProtectedPath(t *testing.T) {
	cases := map[string]bool{
		"/dashboard":        true,
		"/dashboard/":       true,
		"/players/12":       true,
		"/contracts/new":    true,
		"/clubs":            true,
		"/matches/3/edit":   true,
		"/profile":          true,
		"/playersfoo":       false,
		"/login":            false,
		"/":                 false,
		"/api/players":      false,
		"/register":         false,
		"/dashboardextra/x": false,
	}
	for path, want := range cases {
		if got := IsProtectedPath(path); got != want {
			t.Fatalf("IsProtectedPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func newGateRouter(tokens *TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SessionGate(tokens))
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	router.GET("/dashboard", ok)
	router.GET("/players/:id", ok)
	router.GET("/login", ok)
	return router
}

func TestSessionGate(t *testing.T) {
	tokens := newTestTokens(t, nil)
	router := newGateRouter(tokens)

	valid, _, err := tokens.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	expired := newTestTokens(t, nil)
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	stale, _, err := expired.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	cases := []struct {
		name     string
		path     string
		cookie   string
		wantCode int
	}{
		{"public page", "/login", "", http.StatusOK},
		{"no cookie", "/dashboard", "", http.StatusFound},
		{"garbage cookie", "/players/4", "garbage", http.StatusFound},
		{"expired cookie", "/dashboard", stale, http.StatusFound},
		{"valid cookie", "/players/4", valid, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.cookie != "" {
			req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: tc.cookie})
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != tc.wantCode {
			t.Fatalf("%s: status=%d, want %d", tc.name, rec.Code, tc.wantCode)
		}
		if tc.wantCode == http.StatusFound && rec.Header().Get("Location") != LoginPath {
			t.Fatalf("%s: unexpected redirect %q", tc.name, rec.Header().Get("Location"))
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Fatalf("%s: gate must not set cookies", tc.name)
		}
	}
}

func TestRequireSessionStoresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := newTestTokens(t, nil)
	valid, _, _ := tokens.Issue(testUser)

	router := gin.New()
	router.GET("/api/whoami", RequireSession(tokens), func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id.UserID, "role": id.Role})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: valid})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"id":7,"role":"agent"}` {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}
