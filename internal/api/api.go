// Package api provides the HTTP server of tutorbot.
//
// It exposes the Chatwoot and Twilio webhook endpoints that feed inbound
// messages to the dialogue engine, plus health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stephenadei/tutorbot/internal/models"
	"github.com/stephenadei/tutorbot/internal/store"
)

// Server defaults.
const (
	DefaultAddr               = ":8080"
	DefaultRateLimitPerMinute = 120
	DefaultMaxBodyBytes       = 1 << 20
	DefaultHandleTimeout      = 30 * time.Second
)

// EventHandler applies one inbound event to the dialogue.
type EventHandler interface {
	Handle(ctx context.Context, ev models.InboundEvent) error
}

// signatureValidator checks Twilio request signatures.
type signatureValidator interface {
	Validate(publicURL string, form url.Values, signature string) bool
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr               string
	ChatwootSecret     string // empty disables signature checks
	TwilioValidator    signatureValidator
	TwilioWebhookURL   string // public URL Twilio signs
	RateLimitPerMinute int
	MaxBodyBytes       int64
	HandleTimeout      time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChatwootSecret enables X-Chatwoot-Signature verification.
func WithChatwootSecret(secret string) Option {
	return func(o *Opts) { o.ChatwootSecret = secret }
}

// WithTwilioValidation enables X-Twilio-Signature verification for publicURL.
func WithTwilioValidation(v signatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioValidator = v
		o.TwilioWebhookURL = publicURL
	}
}

// WithRateLimit sets the webhook request budget per client per minute.
func WithRateLimit(perMinute int) Option {
	return func(o *Opts) { o.RateLimitPerMinute = perMinute }
}

// WithHandleTimeout bounds the processing of one webhook event.
func WithHandleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.HandleTimeout = d }
}

// Server holds the dependencies of the HTTP endpoints.
type Server struct {
	handler EventHandler
	dedup   store.DedupRepo
	opts    Opts
	httpSrv *http.Server
}

// NewServer creates a server dispatching webhook events to handler. Inbound
// message ids are claimed in dedup before dispatch.
func NewServer(handler EventHandler, dedup store.DedupRepo, opts ...Option) *Server {
	cfg := Opts{
		Addr:               DefaultAddr,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		MaxBodyBytes:       DefaultMaxBodyBytes,
		HandleTimeout:      DefaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating API server", "addr", cfg.Addr, "chatwootSignature", cfg.ChatwootSecret != "",
		"twilioSignature", cfg.TwilioValidator != nil, "rateLimit", cfg.RateLimitPerMinute)
	s := &Server{handler: handler, dedup: dedup, opts: cfg}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.HandleTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Router builds the chi router with all endpoints and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(correlationID)
	r.Use(requestMetrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(rateLimit(s.opts.RateLimitPerMinute))
		r.Post("/chatwoot", s.chatwootWebhookHandler)
		r.Post("/twilio", s.twilioWebhookHandler)
	})
	return r
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("API server listening", "addr", s.opts.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("API server failed", "error", err)
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "tutorbot"}))
}
