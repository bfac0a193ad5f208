package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newTestRouter(required bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware("test-secret", required))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString("username")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	good, _, err := SignAccessToken([]byte("test-secret"), 7, "alice", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wrong, _, _ := SignAccessToken([]byte("other-secret"), 7, "alice", time.Minute)
	expired, _, _ := SignAccessToken([]byte("test-secret"), 7, "alice", -time.Minute)

	cases := []struct {
		name     string
		required bool
		header   string
		query    string
		status   int
		body     string
	}{
		{"bearer", true, "Bearer " + good, "", 200, `{"username":"alice"}`},
		{"lowercase bearer", true, "bearer " + good, "", 200, `{"username":"alice"}`},
		{"query token", true, "", good, 200, `{"username":"alice"}`},
		{"missing required", true, "", "", 401, ""},
		{"missing optional", false, "", "", 200, `{"username":""}`},
		{"wrong secret", false, "Bearer " + wrong, "", 401, ""},
		{"expired", true, "Bearer " + expired, "", 401, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/me"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			newTestRouter(tc.required).ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status: got %d want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("body: got %s want %s", w.Body.String(), tc.body)
			}
		})
	}
}

func TestRefreshTokenRejected(t *testing.T) {
	claims := &Claims{
		UserID:   7,
		Username: "alice",
		Type:     "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newTestRouter(false).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token should be rejected, got %d", w.Code)
	}

	if _, err := ParseToken([]byte("test-secret"), "not-a-token"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTokenWithoutExpiryRejected(t *testing.T) {
	claims := &Claims{UserID: 7, Username: "alice", Type: "access"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken([]byte("test-secret"), token); !errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
		t.Fatalf("ParseToken without exp: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me?token="+token, nil)
	w := httptest.NewRecorder()
	newTestRouter(false).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("token without exp should be rejected, got %d", w.Code)
	}
}

func TestEmptySecretRejectsTokens(t *testing.T) {
	token, _, err := SignAccessToken([]byte("test-secret"), 7, "alice", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(nil, token); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("ParseToken with empty secret: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware("", false))
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("token accepted without a secret, got %d", w.Code)
	}
}
