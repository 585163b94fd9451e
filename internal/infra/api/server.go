package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/config"
	"mpesa-stk-mediator/internal/infra/metrics"
	"mpesa-stk-mediator/internal/usecase"
)

// Server exposes the payment routes over HTTP.
type Server struct {
	payUC          usecase.PaymentUseCase
	cbUC           usecase.CallbackUseCase
	requestTimeout time.Duration
	origins        []string
	log            *zerolog.Logger
}

func NewServer(payUC usecase.PaymentUseCase, cbUC usecase.CallbackUseCase, cfg config.ServerConfig, logger *zerolog.Logger) *Server {
	return &Server{
		payUC:          payUC,
		cbUC:           cbUC,
		requestTimeout: cfg.RequestTimeout,
		origins:        cfg.AllowedOrigins,
		log:            logger,
	}
}

// Router builds the chi router with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), CORS(s.origins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/payments", func(r chi.Router) {
		if s.requestTimeout > 0 {
			r.Use(Timeout(s.requestTimeout))
		}
		r.Post("/", s.handleInitiate)
		r.Post("/callback", s.handleCallback)
		r.Get("/status", s.handleStatus)
	})
	return r
}
