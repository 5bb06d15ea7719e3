package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/gmail-mirror/internal/auth"
)

// PushHandler consumes a raw push request body
type PushHandler interface {
	Handle(ctx context.Context, raw []byte) error
}

// PushVerifier authenticates a push request
type PushVerifier interface {
	VerifyRequest(r *http.Request) (*auth.PushIdentity, error)
}

// Options configures the webhook server
type Options struct {
	Addr     string
	CertFile string
	KeyFile  string

	// Verifier is optional; requests are accepted unauthenticated when nil
	Verifier PushVerifier
}

// Server receives Gmail push notifications over HTTP
type Server struct {
	opts    Options
	handler PushHandler
	log     logrus.FieldLogger
	engine  *gin.Engine
	now     func() time.Time
}

// New builds the gin engine and registers the routes
func New(opts Options, handler PushHandler, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:    opts,
		handler: handler,
		log:     log,
		engine:  gin.New(),
		now:     time.Now,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/", s.index)

	webhook := s.engine.Group("/")
	if opts.Verifier != nil {
		webhook.Use(s.pushAuthMiddleware())
	}
	webhook.POST("/gmail-webhook", s.gmailWebhook)

	return s
}

// Handler returns the CORS-wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.engine)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.opts.CertFile != "" && s.opts.KeyFile != "" {
			s.log.WithField("addr", s.opts.Addr).Info("webhook server listening (TLS)")
			err = srv.ListenAndServeTLS(s.opts.CertFile, s.opts.KeyFile)
		} else {
			s.log.WithField("addr", s.opts.Addr).Info("webhook server listening")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown: %w", err)
	}
	return nil
}

func (s *Server) index(c *gin.Context) {
	c.String(http.StatusOK, "[mirror] Server: %s", s.now().Format(time.RFC1123))
}

// gmailWebhook always acknowledges so Pub/Sub does not redeliver; failures
// are logged only
func (s *Server) gmailWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.log.WithError(err).Warn("failed to read push body")
	} else if err := s.handler.Handle(c.Request.Context(), body); err != nil {
		s.log.WithError(err).Warn("push notification not processed")
	}
	c.JSON(http.StatusOK, gin.H{"ok": 1})
}

func (s *Server) pushAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.opts.Verifier.VerifyRequest(c.Request)
		if err != nil {
			s.log.WithError(err).Warn("rejected push request")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set("push_email", identity.Email)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}
