package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/router-for-me/WebProxyAPI/internal/util"
)

const (
	callerKeyContext = "callerKey"
	sessionCookie    = "wpa_session"
	sessionTTL       = 24 * time.Hour
)

// bearerKey pulls the caller's key from the Authorization bearer header, the
// only carrier the OpenAI and Anthropic surfaces accept.
func bearerKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// geminiKey additionally accepts the header and query carriers Gemini clients
// use: x-api-key, x-goog-api-key, and the key query param.
func geminiKey(c *gin.Context) string {
	if key := bearerKey(c); key != "" {
		return key
	}
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return key
	}
	return c.Query("key")
}

// requireBearerKey rejects requests that carry no key at all. Keys that are
// not in config.keys are passed through: adapters treat them as raw upstream
// credentials.
func (s *Server) requireBearerKey(c *gin.Context) {
	s.admitKey(c, bearerKey(c))
}

// requireGeminiKey is requireBearerKey with the Gemini carriers enabled.
func (s *Server) requireGeminiKey(c *gin.Context) {
	s.admitKey(c, geminiKey(c))
}

func (s *Server) admitKey(c *gin.Context, key string) {
	if key == "" {
		errorJSON(c, http.StatusUnauthorized, "missing api key")
		c.Abort()
		return
	}
	c.Set(callerKeyContext, key)
	c.Next()
}

func (s *Server) callerKey(c *gin.Context) string {
	return c.GetString(callerKeyContext)
}

// sessionStore tracks live admin sessions in memory. Sessions do not survive
// a restart; the management UI logs in again.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]time.Time)}
}

func (s *sessionStore) create() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()
	return token
}

func (s *sessionStore) valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.sessions, token)
		return false
	}
	return true
}

func (s *sessionStore) drop(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *Server) requireSession(c *gin.Context) {
	token, _ := c.Cookie(sessionCookie)
	if !s.sessions.valid(token) {
		errorJSON(c, http.StatusUnauthorized, "management session required")
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetCookie(sessionCookie, token, maxAge, "/", "", util.IsProduction(), true)
}
