package middleware_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gridsense/pdmon/internal/api/middleware"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	// Create test setup
	ts := testutil.NewTestSetup(t)

	// Create auth middleware
	authMiddleware := middleware.NewAuthMiddleware(&ts.Config.JWT)

	// Setup test route
	ts.Router.GET("/protected", authMiddleware.RequireAuth(), func(c *gin.Context) {
		subject, exists := c.Get(middleware.ContextSubject)
		if !exists {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subject not set in context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": subject})
	})

	// Setup test route for admin access
	ts.Router.GET("/admin", authMiddleware.RequireAuth(), authMiddleware.RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "admin access granted"})
	})

	t.Run("Should return 401 when no token provided", func(t *testing.T) {
		resp := ts.ExecuteRequest("GET", "/protected", nil, nil)

		assert.Equal(t, http.StatusUnauthorized, resp.Code)

		var response map[string]string
		ts.ParseResponse(resp, &response)
		assert.Contains(t, response["error"], "Authorization header is required")
	})

	t.Run("Should return 401 when invalid token format provided", func(t *testing.T) {
		resp := ts.ExecuteRequest("GET", "/protected", nil, map[string]string{
			"Authorization": "InvalidFormat token123",
		})

		assert.Equal(t, http.StatusUnauthorized, resp.Code)

		var response map[string]string
		ts.ParseResponse(resp, &response)
		assert.Contains(t, response["error"], "Authorization header format must be Bearer")
	})

	t.Run("Should return 401 when invalid token provided", func(t *testing.T) {
		resp := ts.ExecuteRequest("GET", "/protected", nil, map[string]string{
			"Authorization": "Bearer invalid-token",
		})

		assert.Equal(t, http.StatusUnauthorized, resp.Code)

		var response map[string]string
		ts.ParseResponse(resp, &response)
		assert.Contains(t, response["error"], "invalid token")
	})

	t.Run("Should return 401 when expired token provided", func(t *testing.T) {
		// Create expired JWT token
		claims := &models.Claims{
			Subject: "ops",
			Role:    string(models.RoleViewer),
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte(ts.Config.JWT.Secret))
		assert.NoError(t, err)

		resp := ts.ExecuteRequest("GET", "/protected", nil, map[string]string{
			"Authorization": "Bearer " + tokenString,
		})

		assert.Equal(t, http.StatusUnauthorized, resp.Code)

		var response map[string]string
		ts.ParseResponse(resp, &response)
		assert.Contains(t, response["error"], "token has expired")
	})

	t.Run("Should return 200 when valid token provided", func(t *testing.T) {
		token := ts.CreateTestAuthToken("ops", models.RoleViewer)

		resp := ts.ExecuteRequest("GET", "/protected", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})

		assert.Equal(t, http.StatusOK, resp.Code)

		var response map[string]string
		ts.ParseResponse(resp, &response)
		assert.Equal(t, "ops", response["subject"])
	})

	t.Run("Should return 403 when viewer accesses admin route", func(t *testing.T) {
		token := ts.CreateTestAuthToken("ops", models.RoleViewer)

		resp := ts.ExecuteRequest("GET", "/admin", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})

		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("Should return 200 when admin accesses admin route", func(t *testing.T) {
		token := ts.CreateTestAuthToken("root", models.RoleAdmin)

		resp := ts.ExecuteRequest("GET", "/admin", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})

		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("Should reject token signed with another secret", func(t *testing.T) {
		token, err := models.GenerateToken("some-other-secret", "ops", models.RoleAdmin, time.Hour)
		assert.NoError(t, err)

		resp := ts.ExecuteRequest("GET", "/protected", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})

		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}
