package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/rosterly/enrol-recon-api/internal/models"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims *models.JWTClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func jwtTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(testSecret))
	router.GET("/protected", func(c *gin.Context) {
		value, _ := c.Get(ContextUserKey)
		claims := value.(*models.JWTClaims)
		c.JSON(http.StatusOK, gin.H{"tenant_id": claims.TenantID})
	})
	return router
}

func TestJWTAcceptsValidToken(t *testing.T) {
	router := jwtTestRouter()
	token := signToken(t, &models.JWTClaims{
		UserID:   "user-1",
		TenantID: "t1",
		Role:     models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"tenant_id":"t1"`)
}

func TestJWTRejectsBadTokens(t *testing.T) {
	router := jwtTestRouter()

	cases := map[string]func(req *http.Request){
		"missing header": func(req *http.Request) {},
		"malformed header": func(req *http.Request) {
			req.Header.Set("Authorization", "Token abc")
		},
		"wrong secret": func(req *http.Request) {
			token := signToken(t, &models.JWTClaims{UserID: "user-1", TenantID: "t1"}, "other-secret")
			req.Header.Set("Authorization", "Bearer "+token)
		},
		"expired": func(req *http.Request) {
			token := signToken(t, &models.JWTClaims{
				UserID:   "user-1",
				TenantID: "t1",
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			}, testSecret)
			req.Header.Set("Authorization", "Bearer "+token)
		},
		"missing tenant claim": func(req *http.Request) {
			token := signToken(t, &models.JWTClaims{UserID: "user-1"}, testSecret)
			req.Header.Set("Authorization", "Bearer "+token)
		},
	}

	for name, arrange := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			arrange(req)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			require.Equal(t, http.StatusUnauthorized, resp.Code)
		})
	}
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(ContextUserKey, &models.JWTClaims{UserID: "u1", TenantID: "t1", Role: models.UserRole(role)})
		}
		c.Next()
	})
	router.POST("/admin-only", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/admin-only", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin-only", nil)
	req.Header.Set("X-Test-Role", string(models.RoleReviewer))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusForbidden, resp.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin-only", nil)
	req.Header.Set("X-Test-Role", string(models.RoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
}
