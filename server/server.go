// Package server exposes the ingestion pipeline over HTTP: the storage
// notification endpoint, the admin read API over jobs, dead letters and
// documents, a live job stream over WebSocket, Prometheus metrics and a
// health check.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/croplink/docstore"
	"github.com/teranos/croplink/ingest"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

// Options wires the server to the pipeline.
type Options struct {
	Queue          *async.Queue
	Adapter        *ingest.Adapter
	Documents      *docstore.Store
	Sources        *sourcecfg.Cache
	WorkerPool     *async.WorkerPool // optional, reported by /health
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	MaxEventBytes  int64
	Logger         *zap.SugaredLogger
}

// Server serves the pipeline's HTTP surface.
type Server struct {
	queue          *async.Queue
	adapter        *ingest.Adapter
	docs           *docstore.Store
	sources        *sourcecfg.Cache
	workerPool     *async.WorkerPool
	gatherer       prometheus.Gatherer
	allowedOrigins []string
	maxEventBytes  int64
	logger         *zap.SugaredLogger

	clients map[*Client]bool
	mu      sync.RWMutex

	httpServer *http.Server

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32
}

// New creates a server. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxEventBytes <= 0 {
		opts.MaxEventBytes = DefaultMaxEventBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		queue:          opts.Queue,
		adapter:        opts.Adapter,
		docs:           opts.Documents,
		sources:        opts.Sources,
		workerPool:     opts.WorkerPool,
		gatherer:       opts.Gatherer,
		allowedOrigins: opts.AllowedOrigins,
		maxEventBytes:  opts.MaxEventBytes,
		logger:         opts.Logger,
		clients:        make(map[*Client]bool),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// clientCount returns the number of connected stream clients.
func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
