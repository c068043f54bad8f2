// Package rpc exposes the marketplace over HTTP. Mutating routes require a
// bearer token whose subject is the acting account. Listings are public but
// carry no payloads; payload bytes are only served by the download route,
// which is checked against the caller.
package rpc

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dataspace/core/events"
	"dataspace/core/runtime"
	"dataspace/native/accounts"
	"dataspace/native/escrow"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
)

// Backend is the runtime surface the HTTP layer drives.
type Backend interface {
	RegisterAccount(ctx context.Context, addr [20]byte, name string, kind accounts.Kind) (*accounts.Profile, error)
	PublishOrder(ctx context.Context, company [20]byte, name string, reference []byte, unitPrice *big.Int) (uint64, error)
	UploadData(ctx context.Context, person [20]byte, name string, payload []byte, company [20]byte, orderID uint64) (*registry.Metadata, error)
	UpdateData(ctx context.Context, person [20]byte, name string, payload []byte, company [20]byte, orderID uint64) (*registry.Metadata, error)
	Buy(ctx context.Context, company, person [20]byte, orderID uint64) (*escrow.Deal, error)
	Confirm(ctx context.Context, company, person [20]byte, orderID uint64) error
	TipOff(ctx context.Context, company, person [20]byte, orderID uint64) (bool, error)

	Orders(company [20]byte) ([]*orderbook.Order, error)
	FindData(person, company [20]byte, orderID uint64) (*registry.Metadata, bool, error)
	ListData(person [20]byte) ([]*registry.Metadata, error)
	Download(ctx context.Context, caller, person, company [20]byte, orderID uint64) ([]byte, error)
	Account(addr [20]byte) (*runtime.AccountView, error)
	Deal(company, person [20]byte, orderID uint64) (*escrow.Deal, bool, error)
}

type ServerConfig struct {
	Auth           AuthConfig
	RateLimit      RateLimit
	MaxBodyBytes   int64
	ServiceName    string
	AllowedOrigins []string
}

type Server struct {
	backend Backend
	hub     *events.Hub
	cfg     ServerConfig
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewServer(backend Backend, hub *events.Hub, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dataspaced"
	}
	return &Server{
		backend: backend,
		hub:     hub,
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(observe(s.logger))
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Get("/orders/{company}", s.handleListOrders)
			r.Get("/data/{person}", s.handleListData)
			r.Get("/data/{person}/{company}/{order}", s.handleFindData)
			r.Get("/accounts/{addr}", s.handleAccount)
			r.Get("/escrow/deals/{company}/{person}/{order}", s.handleDeal)
			r.Get("/events", s.handleEvents)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.limiter.Middleware)
			r.Use(s.limitBody)
			r.Post("/accounts", s.handleRegisterAccount)
			r.Post("/orders", s.handlePublishOrder)
			r.Post("/data", s.handleUploadData)
			r.Put("/data", s.handleUpdateData)
			r.Post("/escrow/buy", s.handleBuy)
			r.Post("/escrow/confirm", s.handleConfirm)
			r.Post("/escrow/tipoff", s.handleTipOff)
			r.Get("/escrow/download/{person}/{company}/{order}", s.handleDownload)
		})
	})

	return otelhttp.NewHandler(r, s.cfg.ServiceName)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
