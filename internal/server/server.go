// Package server exposes one worker over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/pipeframe/internal/config"
	"github.com/danmuck/pipeframe/internal/observability"
	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/danmuck/pipeframe/internal/worker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MaxRequestBody caps the payload accepted by POST /worker/exec.
const MaxRequestBody = 16 << 20

// FlagsHeader carries the response frame flags of an exec request.
const FlagsHeader = "X-Frame-Flags"

// Executor is the part of a worker the server drives.
type Executor interface {
	PID() (uint32, error)
	Exec(payload []byte, flags ...frame.Flag) (*frame.Frame, error)
}

var _ Executor = (*worker.Worker)(nil)

type Server struct {
	Name     string
	Addr     string
	Appeared time.Time

	// exchanges are strictly request/response, so one at a time
	mu     sync.Mutex
	worker Executor
	router *gin.Engine
}

func New(name string, cfg config.ServerConfig, w Executor) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(cfg.CorsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", observability.RequestIDHeader},
		ExposeHeaders: []string{FlagsHeader, observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	addr := cfg.Addr
	if addr == "" {
		addr = config.DefaultServerAddr
	}
	return &Server{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		worker:   w,
		router:   r,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.Appeared).String(),
			"worker": s.Name,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes := s.router.Group("/worker")
	routes.GET("/pid", func(c *gin.Context) {
		s.mu.Lock()
		pid, err := s.worker.PID()
		s.mu.Unlock()
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"worker": s.Name, "pid": pid})
	})

	routes.POST("/exec", s.exec)
}

// exec relays the request body as one data frame. The codec query parameter
// picks the payload flag (raw by default); the response payload is written
// back verbatim with its flags in FlagsHeader.
func (s *Server) exec(c *gin.Context) {
	codecFlag := frame.CodecRaw
	if name := c.Query("codec"); name != "" {
		f, ok := frame.ParseCodec(name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown codec " + name})
			return
		}
		codecFlag = f
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	resp, err := s.worker.Exec(body, codecFlag)
	s.mu.Unlock()
	if err != nil {
		log.Error().Str("worker", s.Name).Err(err).Msg("worker exec failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	flags := resp.ReadFlags()
	c.Header(FlagsHeader, flags.String())
	c.Data(http.StatusOK, contentType(flags), resp.Payload())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, worker.ErrWorker), errors.Is(err, protocol.ErrCRCVerification):
		return http.StatusBadGateway
	case errors.Is(err, protocol.ErrPipe):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func contentType(flags frame.Flag) string {
	switch flags.Codec() {
	case frame.CodecJSON:
		return "application/json"
	case frame.CodecMsgpack:
		return "application/msgpack"
	case frame.CodecProto:
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}

// Serve registers the routes and listens on Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("worker", s.Name).Str("addr", s.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
