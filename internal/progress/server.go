// Package progress exposes a read-only HTTP view of the orchestrator's
// durable state for monitoring. No auth or rate-limit middleware: it
// is a local, read-only, optional convenience endpoint, not a public
// API surface, and it serves orchestrator status only — fixture
// replay belongs to the separate mock server.
package progress

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/reconweb/internal/wal"
)

// Server is the read-only progress HTTP endpoint.
type Server struct {
	store  *wal.Store
	walTailFn func(n int) ([]string, error)
	engine *gin.Engine
}

// NewForWALPath builds a progress Server backed by store, tailing
// walPath directly via wal.TailLines.
func NewForWALPath(store *wal.Store, walPath string) *Server {
	return New(store, func(n int) ([]string, error) { return wal.TailLines(walPath, n) })
}

// New builds a progress Server backed by store. walTail returns the
// last n raw WAL lines (wired by the caller, since tailing the file
// lives alongside the orchestrator's own WAL path knowledge).
func New(store *wal.Store, walTail func(n int) ([]string, error)) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{store: store, walTailFn: walTail, engine: r}

	r.GET("/status", s.handleStatus)
	r.GET("/status/wal/tail", s.handleWALTail)

	return s
}

// Run starts the HTTP server on addr. Blocks until the listener
// fails or the process exits; callers typically run it in a goroutine.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleStatus(c *gin.Context) {
	state, err := s.store.State()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleWALTail(c *gin.Context) {
	n := 50
	if v := c.Query("n"); v != "" {
		if parsed, err := parsePositiveInt(v); err == nil {
			n = parsed
		}
	}
	lines, err := s.walTailFn(n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, errNotANumber
	}
	return n, nil
}

var errNotANumber = httpError("not a positive integer")

type httpError string

func (e httpError) Error() string { return string(e) }
