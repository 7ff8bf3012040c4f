// Package mirror implements the node mirror service: the remote call a
// writer makes so that a reader node allocates its own local slot
// reference for a logical channel.
package mirror

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stagewise/handoff/internal/logging"
	"github.com/stagewise/handoff/internal/shared/id"
	"github.com/stagewise/handoff/internal/store"
)

// AllocateRequest asks the mirror to allocate a reader-side slot.
type AllocateRequest struct {
	ChannelID     string `json:"channel_id" binding:"required"`
	CapacityBytes int64  `json:"capacity_bytes"`
}

// AllocateResponse carries the reader-side reference back to the writer.
type AllocateResponse struct {
	Node id.NodeID     `json:"node"`
	Ref  store.SlotRef `json:"ref"`
}

// Server hosts the mirror API over this node's local store.
type Server struct {
	node   id.NodeID
	store  store.Store
	log    *logging.Logger
	engine *gin.Engine
	http   *http.Server

	mu    sync.Mutex
	byChn map[string]store.SlotRef // registration is a one-time handshake per channel
}

// NewServer creates a mirror server for the given node and store.
func NewServer(node id.NodeID, st store.Store, log *logging.Logger) *Server {
	s := &Server{
		node:  node,
		store: st,
		log:   log,
		byChn: make(map[string]store.SlotRef),
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.GET("/health", s.handleHealth)
	engine.POST("/v1/slots", s.handleAllocate)
	s.engine = engine
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	s.log.Info("mirror service listening",
		zap.String("addr", addr),
		zap.String("node", string(s.node)),
	)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node": s.node})
}

func (s *Server) handleAllocate(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CapacityBytes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "capacity_bytes must be non-negative"})
		return
	}

	s.mu.Lock()
	ref, ok := s.byChn[req.ChannelID]
	s.mu.Unlock()
	if ok {
		c.JSON(http.StatusOK, AllocateResponse{Node: s.node, Ref: ref})
		return
	}

	ref, err := s.store.AllocateSlot(c.Request.Context(), req.CapacityBytes)
	if err != nil {
		s.log.Error("reader slot allocation failed",
			zap.String("channel", req.ChannelID),
			zap.Error(err),
		)
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.byChn[req.ChannelID] = ref
	s.mu.Unlock()

	s.log.Info("reader slot mirrored",
		zap.String("channel", req.ChannelID),
		zap.String("slot", string(ref.ID)),
		zap.Int64("capacity", req.CapacityBytes),
	)
	c.JSON(http.StatusOK, AllocateResponse{Node: s.node, Ref: ref})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("mirror request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
