// Package api exposes the verification engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mailprobe-lite/internal/report"
	"github.com/shineum/mailprobe-lite/internal/verifier"
)

// shutdownTimeout bounds the graceful shutdown after the context ends.
const shutdownTimeout = 10 * time.Second

// MaxAddresses is the largest batch accepted by one request.
const MaxAddresses = 1000

// Verifier is the engine operation the API serves.
type Verifier interface {
	Verify(ctx context.Context, addrs []string) (verifier.Results, error)
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Addresses []string `json:"addresses" validate:"required,min=1,max=1000,dive,required"`
}

// Config holds the server configuration.
type Config struct {
	Listen string

	// RequestTimeout bounds one verification request. Zero means no limit.
	RequestTimeout time.Duration

	// Gatherer serves /metrics. When nil the route is not registered.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front end.
type Server struct {
	config   Config
	engine   Verifier
	app      *fiber.App
	validate *validator.Validate
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg Config, engine Verifier) *Server {
	s := &Server{
		config:   cfg,
		engine:   engine,
		validate: validator.New(),
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),
	}

	s.app.Get("/healthz", s.handleHealth)
	s.app.Post("/v1/verify", s.handleVerify)
	if cfg.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.config.Listen)
		errCh <- s.app.Listen(s.config.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleVerify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}

	ctx := c.UserContext()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	results, err := s.engine.Verify(ctx, req.Addresses)
	doc := report.NewDocument(req.Addresses, results)
	if err != nil {
		slog.Warn("verification interrupted", "addresses", len(req.Addresses), "error", err)
		doc.Interrupted = true
	}

	return c.JSON(doc)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return "addresses are required and must not be empty strings"
	case "min":
		return "at least one address is required"
	case "max":
		return fmt.Sprintf("at most %d addresses per request", MaxAddresses)
	default:
		return fmt.Sprintf("invalid field %s", fe.Field())
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
