package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwtRouter(signingKey []byte) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(signingKey))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": GetTenantID(c.Request.Context()),
			"user_id":   GetUserID(c.Request.Context()),
		})
	})
	return router
}

func TestJWTAuth_Success(t *testing.T) {
	key := []byte("test-signing-key-1234567890123456")
	token, _, err := GenerateToken(JWTConfig{
		SigningKey: key,
		Issuer:     "bizforge",
		ExpiresIn:  time.Hour,
	}, "t1", "u1", []string{"sales_clerk"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	jwtRouter(key).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tenant_id":"t1"`)
	assert.Contains(t, w.Body.String(), `"user_id":"u1"`)
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	jwtRouter([]byte("key")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_WrongKey(t *testing.T) {
	token, _, err := GenerateToken(JWTConfig{
		SigningKey: []byte("key-a-123456789012345678901234567"),
		ExpiresIn:  time.Hour,
	}, "t1", "u1", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	jwtRouter([]byte("key-b-123456789012345678901234567")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_Expired(t *testing.T) {
	key := []byte("expired-key-123456789012345678901")
	token, _, err := GenerateToken(JWTConfig{
		SigningKey: key,
		ExpiresIn:  -time.Minute,
	}, "t1", "u1", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	jwtRouter(key).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestJWTAuth_RejectsNoneSigningMethod(t *testing.T) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{
		TenantID: "t1",
		UserID:   "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	jwtRouter([]byte("signing-key-12345678901234567890")).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_RejectsClaimsWithoutTenant(t *testing.T) {
	key := []byte("no-tenant-key-1234567890123456789")
	token, _, err := GenerateToken(JWTConfig{
		SigningKey: key,
		ExpiresIn:  time.Hour,
	}, "", "u1", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	jwtRouter(key).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
