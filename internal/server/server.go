package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phoenixgate/internal/config"
	"phoenixgate/internal/gateway"
	"phoenixgate/internal/health"
	"phoenixgate/internal/pool"
	"phoenixgate/internal/provider"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 120 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg        config.Config
	dispatcher *gateway.Dispatcher
	pool       *pool.Pool
	monitor    *health.Monitor
	app        *echo.Echo
	address    string
}

// New constructs an HTTP server wired with routing and middleware. The
// monitor may be nil when the health loop is disabled.
func New(cfg config.Config, d *gateway.Dispatcher, p *pool.Pool, monitor *health.Monitor) (*Server, error) {
	if d == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if p == nil {
		return nil, errors.New("pool must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:        cfg,
		dispatcher: d,
		pool:       p,
		monitor:    monitor,
		app:        e,
		address:    fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the routed application for in-process testing.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.app.POST("/v1/ask", s.handleAsk)
}

type askRequest struct {
	Text       string `json:"text"`
	DeadlineMS int64  `json:"deadline_ms,omitempty"`
}

type askResponse struct {
	RequestID  string     `json:"request_id"`
	Persona    string     `json:"persona"`
	Provider   string     `json:"provider"`
	Intent     string     `json:"intent"`
	Confidence float64    `json:"confidence"`
	Content    string     `json:"content"`
	Usage      usageBlock `json:"usage"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleAsk(c echo.Context) error {
	var req askRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Text == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "text must not be empty",
			Type:    "invalid_request_error",
		}
	}
	if req.DeadlineMS < 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "deadline_ms must not be negative",
			Type:    "invalid_request_error",
		}
	}

	ctx := c.Request().Context()
	deadline := time.Duration(req.DeadlineMS) * time.Millisecond

	result, err := s.dispatcher.Handle(ctx, req.Text, deadline)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, askResponse{
		RequestID:  result.RequestID,
		Persona:    result.Persona,
		Provider:   result.Provider,
		Intent:     result.Intent.Intent,
		Confidence: result.Intent.Confidence,
		Content:    result.Content,
		Usage: usageBlock{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	})
}

type healthResponse struct {
	Status    string                           `json:"status"`
	Breakers  map[string]string                `json:"breakers"`
	Providers map[string]health.ProviderStatus `json:"providers,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{
		Breakers: make(map[string]string),
	}

	for name, state := range s.pool.States() {
		resp.Breakers[name] = state.String()
	}

	if s.monitor != nil {
		statuses := s.monitor.Snapshot()
		resp.Providers = statuses
		resp.Status = health.Aggregate(statuses)
	} else {
		// Without the monitor, liveness of this process is all we can attest.
		resp.Status = "ok"
	}

	code := http.StatusOK
	if resp.Status == "down" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func errorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprintf("%v", he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var exhausted *provider.ExhaustedError
	if errors.As(err, &exhausted) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: exhausted.Error(),
			Type:    "all_providers_exhausted",
		}
	}
	if errors.Is(err, gateway.ErrDeadlineExceeded) {
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: "request deadline exceeded before any provider completed",
			Type:    "deadline_exceeded",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    "upstream_error",
	}
}
