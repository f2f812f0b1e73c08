package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://sso.example.com/realms/workflow"

func jwksServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "k1",
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims *auth.KeycloakClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func testClaims(expires time.Time) *auth.KeycloakClaims {
	c := &auth.KeycloakClaims{
		Sub:               "uuid-1",
		PreferredUsername: "alice",
		Name:              "Alice",
		TenantID:          "t1",
		Groups:            []string{"finance"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	c.RealmAccess.Roles = []string{"workflow-admin"}
	return c
}

// TestKeycloakTokenValidator_ValidateToken 测试签名与过期校验
func TestKeycloakTokenValidator_ValidateToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key)
	v := auth.NewKeycloakTokenValidator(testIssuer, srv.URL)

	claims, err := v.ValidateToken(signToken(t, key, testClaims(time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.PreferredUsername)
	assert.Equal(t, "t1", claims.TenantID)

	_, err = v.ValidateToken(signToken(t, key, testClaims(time.Now().Add(-time.Hour))))
	assert.Error(t, err)

	other := testClaims(time.Now().Add(time.Hour))
	other.Issuer = "https://evil.example.com"
	_, err = v.ValidateToken(signToken(t, key, other))
	assert.Error(t, err)
}

// TestActorFromClaims 测试由声明构造操作人
func TestActorFromClaims(t *testing.T) {
	actor := auth.ActorFromClaims(testClaims(time.Now()), []string{"workflow-admin"})
	assert.Equal(t, "alice", actor.UserID)
	assert.Equal(t, "Alice", actor.DisplayName())
	assert.Equal(t, []string{"finance"}, actor.Groups)
	assert.True(t, actor.Admin)

	c := testClaims(time.Now())
	c.PreferredUsername = ""
	actor = auth.ActorFromClaims(c, nil)
	assert.Equal(t, "uuid-1", actor.UserID)
	assert.False(t, actor.Admin)
}

// TestActorFromContext 测试上下文读写
func TestActorFromContext(t *testing.T) {
	_, err := auth.ActorFromContext(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoActor)

	ctx := auth.WithActor(context.Background(), auth.Actor{UserID: "bob"})
	actor, err := auth.ActorFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", actor.UserID)
	assert.Equal(t, "bob", actor.DisplayName())
}

// TestKeycloakAuthMiddleware 测试认证中间件
func TestKeycloakAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key)

	r := gin.New()
	r.Use(auth.KeycloakAuthMiddleware(auth.NewKeycloakTokenValidator(testIssuer, srv.URL), nil))
	r.GET("/me", func(c *gin.Context) {
		actor, err := auth.ActorFromContext(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, actor.UserID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, testClaims(time.Now().Add(time.Hour))))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}
