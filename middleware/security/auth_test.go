package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	sec "github.com/fightlightdiamond/chemchat/tools/security"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func authRouter(opts *Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/who", Middleware(opts), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestAuthAcceptsGeneratedToken(t *testing.T) {
	opts := DefaultOptions(testSecret)
	token, expireAt, err := sec.Generate(opts.JWT, "user-7", []string{"chat:send"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !expireAt.After(time.Now()) {
		t.Fatalf("token already expired at %v", expireAt)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authRouter(opts).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if w.Body.String() != "user-7" {
		t.Fatalf("subject = %q, want user-7", w.Body.String())
	}
}

func TestAuthAcceptsTokenHeader(t *testing.T) {
	opts := DefaultOptions(testSecret)
	token, _, err := sec.Generate(opts.JWT, "user-8", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("authorization", token)
	authRouter(opts).ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "user-8" {
		t.Fatalf("got %d %q, want 200 user-8", w.Code, w.Body.String())
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	opts := DefaultOptions(testSecret)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	authRouter(opts).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthRejectsWrongKeyToken(t *testing.T) {
	opts := DefaultOptions(testSecret)
	token, _, err := sec.Generate(sec.DefaultOptions([]byte("another-key-entirely-32-bytes!!!")), "user-9", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authRouter(opts).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	opts := DefaultOptions(testSecret)
	short := opts.JWT
	short.TTL = time.Second // exp claims carry second precision
	token, _, err := sec.Generate(short, "user-10", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authRouter(opts).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
