// Package status serves a read-only HTTP view of the device: health,
// metrics, the latest sample, and output states.
package status

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/potlink/internal/node"
	"github.com/danmuck/potlink/internal/observability"
	"github.com/danmuck/potlink/internal/sample"
)

const (
	Version               = "0.1.0"
	DefaultStreamInterval = time.Second
)

// OutputView exposes an output's state without allowing writes.
type OutputView interface {
	State() bool
}

type Config struct {
	ID             string
	Addr           string
	CORSOrigins    []string
	StreamInterval time.Duration
	Resolution     sample.Resolution
}

// Snapshot is one sample reading as served to clients.
type Snapshot struct {
	Raw    uint16    `json:"raw"`
	Scaled uint8     `json:"scaled"`
	Reply  uint8     `json:"reply"`
	Level  string    `json:"level"`
	At     time.Time `json:"at"`
}

type Node struct {
	ID      string
	Addr    string
	Started time.Time

	src      sample.Source
	res      sample.Resolution
	interval time.Duration
	router   *gin.Engine
	upgrader websocket.Upgrader
	ready    atomic.Bool

	mu      sync.RWMutex
	outputs map[string]OutputView
}

var _ node.Node = (*Node)(nil)

func New(cfg Config, src sample.Source) *Node {
	observability.RegisterMetrics()
	if cfg.ID == "" {
		cfg.ID = "potlink"
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = DefaultStreamInterval
	}
	if cfg.Resolution.Max == 0 {
		cfg.Resolution = sample.Resolution12
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger(cfg.ID)))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	n := &Node{
		ID:       cfg.ID,
		Addr:     cfg.Addr,
		Started:  time.Now(),
		src:      src,
		res:      cfg.Resolution,
		interval: cfg.StreamInterval,
		router:   r,
		outputs:  make(map[string]OutputView),
	}
	n.upgrader = websocket.Upgrader{CheckOrigin: n.checkOrigin(cfg.CORSOrigins)}
	n.registerRoutes()
	return n
}

func (n *Node) NodeID() string {
	return n.ID
}

func (n *Node) Kind() string {
	return "status"
}

func (n *Node) HTTPRouter() *gin.Engine {
	return n.router
}

func (n *Node) Ready() bool {
	return n.ready.Load()
}

// SetReady flips the /ready answer once the protocol path is up.
func (n *Node) SetReady(ready bool) {
	n.ready.Store(ready)
}

func (n *Node) AddOutput(name string, view OutputView) {
	n.mu.Lock()
	n.outputs[name] = view
	n.mu.Unlock()
}

// Snapshot reads the source once.
func (n *Node) Snapshot() Snapshot {
	v := n.src.Sample()
	return Snapshot{
		Raw:    v,
		Scaled: n.res.ToByte(v),
		Reply:  sample.ReplyByte(v),
		Level:  string(sample.Level(v)),
		At:     time.Now().UTC(),
	}
}

func (n *Node) registerRoutes() {
	r := n.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(n.Started).String(),
			"service": n.ID,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		code := http.StatusOK
		if !n.Ready() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   n.Ready(),
			"uptime":  time.Since(n.Started).String(),
			"service": n.ID,
			"version": Version,
		})
	})

	r.GET("/sample", func(c *gin.Context) {
		c.JSON(http.StatusOK, n.Snapshot())
	})

	r.GET("/outputs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"outputs": n.listOutputs()})
	})

	r.GET("/ws/sample", n.streamSamples)
}

type OutputInfo struct {
	Name string `json:"name"`
	On   bool   `json:"on"`
}

func (n *Node) listOutputs() []OutputInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	list := make([]OutputInfo, 0, len(n.outputs))
	for name, view := range n.outputs {
		list = append(list, OutputInfo{Name: name, On: view.State()})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// streamSamples pushes one snapshot per interval until the client goes away.
// An optional count query bounds the number of messages.
func (n *Node) streamSamples(c *gin.Context) {
	limit := 0
	if raw := c.Query("count"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a non-negative integer"})
			return
		}
		limit = v
	}

	ws, err := n.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("node", n.ID).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = ws.Close() }()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	sent := 0
	for {
		if err := ws.WriteJSON(n.Snapshot()); err != nil {
			log.Debug().Err(err).Str("node", n.ID).Msg("sample stream write failed")
			return
		}
		sent++
		if limit > 0 && sent >= limit {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
				time.Now().Add(2*time.Second))
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// Serve runs the status listener until ctx ends.
func (n *Node) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: n.Addr, Handler: n.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("node", n.ID).Str("addr", n.Addr).Msg("status node listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (n *Node) checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range normalizeOrigins(origins) {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
