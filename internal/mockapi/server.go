// Package mockapi serves the chat persistence API and the streaming endpoint
// for local development and end-to-end tests.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	// DefaultChunkDelay paces streamed reply tokens.
	DefaultChunkDelay = 50 * time.Millisecond
	// DefaultRetention is how long uploaded documents are kept.
	DefaultRetention = 24 * time.Hour
	// DefaultSweepCron runs the upload sweep at the top of every hour.
	DefaultSweepCron = "0 * * * *"
)

// Opts holds configuration for the mock backend.
type Opts struct {
	DB         *gorm.DB
	UploadDir  string
	Retention  time.Duration // uploads older than this are swept
	SweepCron  string        // 5-field cron expression
	ChunkDelay time.Duration // negative disables the delay
	Out        io.Writer
}

// Server is the mock backend.
type Server struct {
	db         *gorm.DB
	uploadDir  string
	retention  time.Duration
	sweepSpec  string
	chunkDelay time.Duration
	out        io.Writer

	router   *gin.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New creates a Server. The database must already be migrated.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("mockapi: db is required")
	}
	if opts.UploadDir == "" {
		return nil, fmt.Errorf("mockapi: upload dir is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepCron == "" {
		opts.SweepCron = DefaultSweepCron
	}
	if _, err := cronParser.Parse(opts.SweepCron); err != nil {
		return nil, fmt.Errorf("mockapi: sweep cron %q: %w", opts.SweepCron, err)
	}
	switch {
	case opts.ChunkDelay == 0:
		opts.ChunkDelay = DefaultChunkDelay
	case opts.ChunkDelay < 0:
		opts.ChunkDelay = 0
	}
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("mockapi: create upload dir: %w", err)
	}

	s := &Server{
		db:         opts.DB,
		uploadDir:  opts.UploadDir,
		retention:  opts.Retention,
		sweepSpec:  opts.SweepCron,
		chunkDelay: opts.ChunkDelay,
		out:        opts.Out,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sockets: make(map[*websocket.Conn]struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = 8 << 20
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr and runs the upload sweep. It blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockapi: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	sched := cron.New(cron.WithParser(cronParser))
	if _, err := sched.AddFunc(s.sweepSpec, func() {
		if _, err := s.SweepUploads(time.Now().Add(-s.retention)); err != nil {
			log.Printf("mockapi: upload sweep: %v", err)
		}
	}); err != nil {
		ln.Close()
		return fmt.Errorf("mockapi: schedule sweep: %w", err)
	}
	sched.Start()

	srv := &http.Server{Handler: s.router}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		<-sched.Stop().Done()
		s.CloseSockets()
		srv.Shutdown(context.Background())
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "Mock backend listening on http://%s\n", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mockapi: %w", err)
	}
	return nil
}

// CloseSockets drops every open streaming connection. Clients see an
// unexpected close.
func (s *Server) CloseSockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sockets)
	for conn := range s.sockets {
		conn.Close()
		delete(s.sockets, conn)
	}
	return n
}

// SocketCount returns the number of open streaming connections.
func (s *Server) SocketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.sockets[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.sockets, conn)
	s.mu.Unlock()
}
