package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/novalearn/partnerhub_backend/middlewares"
	"github.com/novalearn/partnerhub_backend/utils"
)

func sessionRouter(pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(middlewares.RequireSession())
	r.GET("/api/lms/sync/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "idle"})
	})
	return r
}

func TestRequireSessionRejectsAnonymous(t *testing.T) {
	r := sessionRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/lms/sync/status", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request: got %d, want 401", w.Code)
	}
}

func TestRequireSessionPassesResolvedSession(t *testing.T) {
	// Stand-in for SessionMiddleware resolving a token to a username.
	resolved := func(c *gin.Context) {
		c.Request = c.Request.WithContext(
			utils.SetUsernameInContext(c.Request.Context(), "admin@acme.test"))
		c.Next()
	}
	r := sessionRouter(resolved)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/lms/sync/status", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("resolved session: got %d, want 200", w.Code)
	}
}

func TestRequireServiceAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	newRouter := func() *gin.Engine {
		r := gin.New()
		r.POST("/pubsub/lms-sync", middlewares.RequireServiceAuth(), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return r
	}

	t.Run("missing bearer", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/pubsub/lms-sync", nil)
		newRouter().ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("no auth: got %d, want 401", w.Code)
		}
	})

	t.Run("valid bearer", func(t *testing.T) {
		token, err := utils.JwtGenerate(1, "service")
		if err != nil {
			t.Fatalf("JwtGenerate: %v", err)
		}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/pubsub/lms-sync", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		newRouter().ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("valid bearer: got %d, want 204", w.Code)
		}
	})

	t.Run("auth disabled", func(t *testing.T) {
		t.Setenv("ACADIO_PUSH_AUTH_DISABLED", "true")
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/pubsub/lms-sync", nil)
		newRouter().ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("auth disabled: got %d, want 204", w.Code)
		}
	})
}
