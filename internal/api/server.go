package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tycoon/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

func init() {
	// The game client expects plain JSON numbers for money.
	decimal.MarshalJSONWithoutQuotes = true
}

// Game is the part of game.Service the HTTP layer needs.
type Game interface {
	Load(ctx context.Context, userID string) (game.LoadResult, error)
	Save(ctx context.Context, in game.SaveInput) (game.SaveResult, error)
	Catalog(ctx context.Context) ([]game.BusinessDefinition, error)
}

type Server struct {
	log     *slog.Logger
	game    Game
	timeout time.Duration
	mux     *chi.Mux
}

func New(logger *slog.Logger, gameSvc Game, requestTimeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	s := &Server{
		log:     logger,
		game:    gameSvc,
		timeout: requestTimeout,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	gameRoutes := func(r chi.Router) {
		r.Get("/business", s.handleCatalog)
		r.Get("/business/{userId}", s.handleLoad)
		r.Post("/saveUserData", s.handleSave)
	}
	gameRoutes(r)
	r.Route("/api", gameRoutes)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	defs, err := s.game.Catalog(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"businesses": defs})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Load(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if out.Businesses == nil {
		out.Businesses = []game.BusinessView{}
	}
	writeJSON(w, http.StatusOK, out)
}

type saveRequest struct {
	UserID     string          `json:"userId"`
	Capital    decimal.Decimal `json:"capital"`
	Businesses []game.Progress `json:"businesses"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var in saveRequest
	if err := decodeJSON(r, &in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	_, err := s.game.Save(r.Context(), game.SaveInput{
		UserID:     in.UserID,
		Capital:    in.Capital,
		Businesses: in.Businesses,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Data saved successfully")
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, game.ErrInvalidInput):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"err", err,
		)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": strings.TrimSpace(message)})
}
