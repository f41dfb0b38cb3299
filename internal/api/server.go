// Package api exposes the token factory over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/factory"
	"hypertoken/internal/observability"
)

// FactoryService is the program surface served by the API.
type FactoryService interface {
	ProgramID() string
	FactoryAddress(authority string) (string, error)
	InitializeTokenFactory(ctx context.Context, authority string) (*factory.Result, error)
	CreateToken(ctx context.Context, authority string, params factory.CreateTokenParams) (*factory.Result, error)
	UpdateTokenMetadata(ctx context.Context, authority string, params factory.UpdateTokenMetadataParams) (*factory.Result, error)

	Factory(ctx context.Context, authority string) (*domain.TokenFactory, error)
	Tokens(ctx context.Context, authority string) ([]*domain.TokenRecord, error)
	TokenRecord(ctx context.Context, mint string) (*domain.TokenRecord, error)
	Mint(ctx context.Context, mint string) (*domain.Mint, error)
	Holding(ctx context.Context, owner, mint string) (*domain.TokenAccount, error)
	Holdings(ctx context.Context, owner string) ([]factory.Holding, error)
	RecentTokens(ctx context.Context, limit int) ([]*domain.TokenRecord, error)
	Events(ctx context.Context, mint string) ([]*domain.EventRecord, error)
	LatestMetadata(ctx context.Context, mint string) (*domain.AnnouncedMetadata, error)
}

// StatsSource answers per-authority aggregate queries. Optional.
type StatsSource interface {
	CreatorStats(ctx context.Context, authority string) (*domain.CreatorStats, error)
}

// SlotSource reports the latest slot handed out by the runtime.
type SlotSource interface {
	LatestSlot() uint64
}

// Options for creating Server.
type Options struct {
	Service     FactoryService
	Stats       StatsSource
	Slots       SlotSource
	StorageName string

	ClockSkew      time.Duration
	AllowedOrigins []string
	Now            func() time.Time

	Logger logrus.FieldLogger
}

// Server serves the HTTP API.
type Server struct {
	svc         FactoryService
	stats       StatsSource
	slots       SlotSource
	storageName string

	clockSkew      time.Duration
	allowedOrigins []string
	now            func() time.Time
	started        time.Time
	replays        *replayCache

	logger logrus.FieldLogger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	return &Server{
		svc:            opts.Service,
		stats:          opts.Stats,
		slots:          opts.Slots,
		storageName:    opts.StorageName,
		clockSkew:      opts.ClockSkew,
		allowedOrigins: opts.AllowedOrigins,
		now:            opts.Now,
		started:        opts.Now(),
		replays:        newReplayCache(2 * opts.ClockSkew),
		logger:         opts.Logger.WithField("component", "api"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", HeaderAuthority, HeaderTimestamp, HeaderNonce, HeaderSignature, HeaderRequestID},
		ExposedHeaders: []string{HeaderRequestID},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/factories", func(r chi.Router) {
			r.With(s.authenticate).Post("/", s.handleInitializeFactory)
			r.Get("/{authority}", s.handleGetFactory)
			r.Get("/{authority}/tokens", s.handleListTokens)
			r.Get("/{authority}/stats", s.handleCreatorStats)
		})
		r.Route("/tokens", func(r chi.Router) {
			r.With(s.authenticate).Post("/", s.handleCreateToken)
			r.Get("/", s.handleRecentTokens)
			r.Get("/{mint}", s.handleGetToken)
			r.With(s.authenticate).Put("/{mint}/metadata", s.handleUpdateMetadata)
			r.Get("/{mint}/events", s.handleListEvents)
			r.Get("/{mint}/holders/{owner}", s.handleGetHolding)
		})
		r.Get("/owners/{owner}/holdings", s.handleListHoldings)
	})

	return r
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id assigned by the router.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(route, r.Method, strconv.Itoa(status), elapsed.Seconds())

		s.logger.WithFields(logrus.Fields{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"duration":   elapsed.String(),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	ProgramID  string `json:"program_id"`
	Storage    string `json:"storage"`
	LatestSlot uint64 `json:"latest_slot"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:    "running",
		Uptime:    s.now().Sub(s.started).Round(time.Second).String(),
		ProgramID: s.svc.ProgramID(),
		Storage:   s.storageName,
	}
	if s.slots != nil {
		resp.LatestSlot = s.slots.LatestSlot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
