// Package restserver exposes the intake webhook and the read API over HTTP.
package restserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/ingest"
	"github.com/hoarderd/hoarderd/internal/ipintel"
	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/metrics"
	"github.com/hoarderd/hoarderd/internal/storage"
	"github.com/hoarderd/hoarderd/internal/weather"
	"github.com/hoarderd/hoarderd/pkg/config"
)

// BatchQueue hands intake batches to the task broker.
type BatchQueue interface {
	EnqueueBatch(ctx context.Context, records []ingest.Record) error
}

// Controller represents the REST server controller.
type Controller struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	httpCfg  config.HTTPConfig
	store    storage.Store
	queue    BatchQueue
	kvc      *kv.Client
	weather  *weather.Coordinator
	intel    *ipintel.Client
	Server   http.Server
	logger   *zap.SugaredLogger
	handlers *Handlers
}

// NewController creates a new REST server controller.
func NewController(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, store storage.Store,
	queue BatchQueue, kvc *kv.Client, coord *weather.Coordinator, intel *ipintel.Client,
	logger *zap.SugaredLogger) *Controller {

	ctrl := &Controller{
		ctx:     ctx,
		wg:      wg,
		httpCfg: cfg.HTTP,
		store:   store,
		queue:   queue,
		kvc:     kvc,
		weather: coord,
		intel:   intel,
		logger:  logger,
	}
	ctrl.handlers = NewHandlers(ctrl)

	router := ctrl.setupRouter()
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", cfg.HTTP.ListenAddr, cfg.HTTP.Port)
	ctrl.Server.Handler = socketAddrMiddleware(handlers.ProxyHeaders(handlers.CompressHandler(router)))
	return ctrl
}

// StartController starts the REST server.
func (c *Controller) StartController() error {
	c.logger.Info("starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
			c.logger.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("shutting down the REST server...")
		c.Server.Shutdown(context.Background())
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints.
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(c.requestIDMiddleware)
	router.Use(c.authMiddleware)

	router.HandleFunc("/api/internal/notify", c.handlers.Notify).Methods(http.MethodPost)
	router.HandleFunc("/data/latest/{device_id}", c.handlers.GetLatest).Methods(http.MethodGet)
	router.HandleFunc("/data/history", c.handlers.GetHistory).Methods(http.MethodGet)
	router.HandleFunc("/data/devices", c.handlers.GetDevices).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/", c.handlers.Root).Methods(http.MethodGet)

	return router
}

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	socketAddrKey contextKey = "socket_addr"
)

// socketAddrMiddleware records the raw peer address before ProxyHeaders
// rewrites RemoteAddr from X-Forwarded-For. The auth bypass trusts only the
// socket, never a forwarded header.
func socketAddrMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), socketAddrKey, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func socketAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(socketAddrKey).(string); ok {
		return addr
	}
	return r.RemoteAddr
}

// requestIDMiddleware tags every request with an id, honoring one supplied by
// the caller.
func (c *Controller) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware enforces the configured bearer token. Localhost callers are
// trusted without one, matching the operational setup where the ingest
// service runs beside this process.
func (c *Controller) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.httpCfg.AuthToken == "" || isLocalhost(socketAddr(r)) {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if strings.TrimPrefix(auth, "Bearer ") == c.httpCfg.AuthToken && auth != "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
	})
}

func isLocalhost(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
