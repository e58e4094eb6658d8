package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/devhub/internal/config"
	"github.com/smallbiznis/devhub/internal/middleware"
)

func corsEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		CORSAllowedOrigins:        []string{"https://algoritmoecafe.com"},
		CORSAllowedOriginPatterns: []*regexp.Regexp{regexp.MustCompile(`^https://devhub-.*\.vercel\.app$`)},
		CORSAllowedMethods:        []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:        []string{"Content-Type", "Authorization"},
		CORSAllowCredentials:      true,
	}
	r := gin.New()
	r.Use(middleware.CORS(cfg))
	r.POST("/api/auth/check-access", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSAllowsFixedAndPatternOrigins(t *testing.T) {
	r := corsEngine()

	for _, origin := range []string{"https://algoritmoecafe.com", "https://devhub-git-main-team.vercel.app"} {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/check-access", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, origin, w.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	}
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	r := corsEngine()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/check-access", nil)
	req.Header.Set("Origin", "https://devhub-evil.vercel.app.attacker.io")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterThrottlesAndExempts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := middleware.NewRateLimiter(10, "/health")
	r := gin.New()
	r.Use(limiter.Handler())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })

	// burst is 1 for a budget of 10/min.
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	require.Nil(t, middleware.NewRateLimiter(0))

	gin.SetMode(gin.TestMode)
	var limiter *middleware.RateLimiter
	r := gin.New()
	r.Use(limiter.Handler())
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
