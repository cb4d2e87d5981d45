// Package sandbox serves a local imitation of the platform REST API: seeded
// guilds, channels and roles, token checks, and injectable failures. It backs
// offline runs and end-to-end tests.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/constants"
)

// BasePath is where the versioned API is mounted.
const BasePath = "/api/v10"

type Options struct {
	// Token is the accepted credential; Fixture.Token(DefaultSandboxToken) when empty.
	Token   string
	Fixture *Fixture
	Logger  *common.Logger
}

// Fault makes matching requests fail. Count <= 0 means until cleared.
type Fault struct {
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Status     int     `json:"status"`
	Count      int     `json:"count"`
	RetryAfter float64 `json:"retry_after"`
}

func (f Fault) matches(method, path string) bool {
	if f.Method != "" && !strings.EqualFold(f.Method, method) {
		return false
	}
	return strings.HasPrefix(path, f.Path)
}

// RequestLog is one recorded request.
type RequestLog struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Authorized bool   `json:"authorized"`
	Status     int    `json:"status"`
}

type Server struct {
	engine  *gin.Engine
	token   string
	fixture Fixture
	logger  *common.Logger

	mu       sync.Mutex
	faults   []Fault
	requests []RequestLog
	created  map[string][]map[string]any
	nextID   int64
}

func New(opts Options) *Server {
	f := DefaultFixture()
	if opts.Fixture != nil {
		f = *opts.Fixture
	}
	token := opts.Token
	if token == "" {
		token = f.Token(constants.DefaultSandboxToken)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  gin.New(),
		token:   token,
		fixture: f,
		logger:  common.OrDefault(opts.Logger).WithComponent("sandbox"),
		created: make(map[string][]map[string]any),
		nextID:  900000000000000000,
	}
	s.engine.Use(gin.Recovery(), s.record())
	s.engine.NoRoute(func(c *gin.Context) { apiError(c, http.StatusNotFound, "404: Not Found", 0) })

	admin := s.engine.Group("/_sandbox")
	admin.GET("/requests", s.listRequests)
	admin.POST("/faults", s.addFault)
	admin.DELETE("/faults", s.clearFaults)
	admin.POST("/reset", s.reset)

	api := s.engine.Group(BasePath, s.faultInjector(), s.auth())
	s.registerReads(api)
	s.registerWrites(api)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Token is the credential the sandbox accepts.
func (s *Server) Token() string { return s.token }

func (s *Server) Fixture() Fixture { return s.fixture }

// InjectFault adds a failure rule; rules are tried in insertion order.
func (s *Server) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Requests returns the API requests seen so far.
func (s *Server) Requests() []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RequestLog(nil), s.requests...)
}

// Created returns resources created by write requests, by kind.
func (s *Server) Created(kind string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.created[kind]...)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("sandbox listening", "base_url", fmt.Sprintf("http://%s%s", ln.Addr(), BasePath))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func apiError(c *gin.Context, status int, msg string, code int) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg, "code": code})
}

func (s *Server) record() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if !strings.HasPrefix(c.Request.URL.Path, BasePath) {
			return
		}
		entry := RequestLog{
			Method:     c.Request.Method,
			Path:       strings.TrimPrefix(c.Request.URL.RequestURI(), BasePath),
			Authorized: c.Request.Header.Get("Authorization") != "",
			Status:     c.Writer.Status(),
		}
		s.mu.Lock()
		s.requests = append(s.requests, entry)
		s.mu.Unlock()
		s.logger.Debug("request served", "method", entry.Method, "path", entry.Path, "status", entry.Status)
	}
}

func (s *Server) faultInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, BasePath)
		s.mu.Lock()
		var hit *Fault
		for i := range s.faults {
			f := &s.faults[i]
			if !f.matches(c.Request.Method, path) {
				continue
			}
			copied := *f
			hit = &copied
			if f.Count > 0 {
				f.Count--
				if f.Count == 0 {
					s.faults = append(s.faults[:i], s.faults[i+1:]...)
				}
			}
			break
		}
		s.mu.Unlock()
		if hit == nil {
			c.Next()
			return
		}

		switch hit.Status {
		case http.StatusTooManyRequests:
			if hit.RetryAfter > 0 {
				c.Header("Retry-After", fmt.Sprintf("%g", hit.RetryAfter))
			}
			c.AbortWithStatusJSON(hit.Status, gin.H{"message": "You are being rate limited.", "retry_after": hit.RetryAfter, "global": false})
		case http.StatusUnauthorized:
			apiError(c, hit.Status, "401: Unauthorized", 0)
		default:
			apiError(c, hit.Status, http.StatusText(hit.Status), 0)
		}
	}
}

// auth accepts "Bot <token>" or "Bearer <token>". Webhook and interaction
// token routes need no header.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, BasePath)
		if strings.HasPrefix(path, "/webhooks/") || strings.HasPrefix(path, "/interactions/") {
			c.Next()
			return
		}
		h := c.Request.Header.Get("Authorization")
		scheme, token, _ := strings.Cut(h, " ")
		if (scheme != "Bot" && scheme != "Bearer") || token != s.token {
			apiError(c, http.StatusUnauthorized, "401: Unauthorized", 0)
			return
		}
		c.Next()
	}
}

func (s *Server) listRequests(c *gin.Context) {
	c.JSON(http.StatusOK, s.Requests())
}

func (s *Server) addFault(c *gin.Context) {
	var f Fault
	if err := c.ShouldBindJSON(&f); err != nil || f.Status == 0 {
		apiError(c, http.StatusBadRequest, "fault needs a status", 50035)
		return
	}
	s.InjectFault(f)
	c.Status(http.StatusNoContent)
}

func (s *Server) clearFaults(c *gin.Context) {
	s.ClearFaults()
	c.Status(http.StatusNoContent)
}

func (s *Server) reset(c *gin.Context) {
	s.mu.Lock()
	s.faults = nil
	s.requests = nil
	s.created = make(map[string][]map[string]any)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("%d", s.nextID)
}
