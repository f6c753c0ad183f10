package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/raffle/crank/internal/crank"
	"github.com/coldbell/raffle/crank/internal/journal"
	"github.com/coldbell/raffle/crank/internal/notify"
	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	ListenAddr    string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	StaleAfter    time.Duration
	RaffleAccount string
	ProgramID     string
}

type TickSource interface {
	LastTick() (crank.Tick, bool)
}

type RoundLister interface {
	ListRounds(ctx context.Context, filter journal.RoundFilter) ([]journal.RoundRecord, int, int, error)
}

// Service serves health, metrics, the last tick summary and the rounds
// archive. rounds may be nil when no journal is configured.
type Service struct {
	cfg      Config
	logger   *slog.Logger
	ticks    TickSource
	rounds   RoundLister
	gatherer prometheus.Gatherer
	clock    func() time.Time
}

func New(cfg Config, ticks TickSource, rounds RoundLister, gatherer prometheus.Gatherer, logger *slog.Logger) *Service {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Service{
		cfg:      cfg,
		logger:   logger,
		ticks:    ticks,
		rounds:   rounds,
		gatherer: gatherer,
		clock:    time.Now,
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/rounds", s.handleRounds)
	return mux
}

func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("status api started", "listen_addr", s.cfg.ListenAddr, "journal", s.rounds != nil)

	select {
	case <-ctx.Done():
		s.logger.Info("status api stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status api: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK         bool   `json:"ok"`
	LastTickAt *int64 `json:"last_tick_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Raffle   string        `json:"raffle"`
	Program  string        `json:"program"`
	LastTick *tickResponse `json:"last_tick"`
}

type tickResponse struct {
	StartedAt  int64          `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Outcome    string         `json:"outcome"`
	Decision   string         `json:"decision,omitempty"`
	Submitted  bool           `json:"submitted"`
	Signature  string         `json:"signature,omitempty"`
	Notified   bool           `json:"notified"`
	Stage      string         `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
	Observed   *stateResponse `json:"observed,omitempty"`
	Post       *stateResponse `json:"post,omitempty"`
}

type stateResponse struct {
	JackpotLamports uint64 `json:"jackpot_lamports"`
	JackpotSOL      string `json:"jackpot_sol"`
	EndTime         uint64 `json:"end_time"`
	Winner          string `json:"winner,omitempty"`
	Tickets         int    `json:"tickets"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	tick, ok := s.ticks.LastTick()
	if !ok {
		s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
		return
	}

	lastTickAt := tick.StartedAt.Unix()
	if s.cfg.StaleAfter > 0 && s.clock().Sub(tick.StartedAt) > s.cfg.StaleAfter {
		s.respondJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false, LastTickAt: &lastTickAt})
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true, LastTickAt: &lastTickAt})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Raffle:  s.cfg.RaffleAccount,
		Program: s.cfg.ProgramID,
	}
	if tick, ok := s.ticks.LastTick(); ok {
		resp.LastTick = newTickResponse(tick)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Service) handleRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	if s.rounds == nil {
		s.respondError(w, http.StatusNotFound, "round journal is not configured")
		return
	}

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	raffleFilter := strings.TrimSpace(r.URL.Query().Get("raffle"))
	if raffleFilter == "" {
		raffleFilter = s.cfg.RaffleAccount
	}

	items, normalizedLimit, normalizedOffset, err := s.rounds.ListRounds(r.Context(), journal.RoundFilter{
		Raffle: raffleFilter,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list rounds failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list rounds")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[journal.RoundRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

func newTickResponse(tick crank.Tick) *tickResponse {
	resp := &tickResponse{
		StartedAt:  tick.StartedAt.Unix(),
		DurationMS: tick.Duration.Milliseconds(),
		Outcome:    string(tick.Outcome),
		Submitted:  tick.Submitted,
		Notified:   tick.Notified,
		Stage:      string(tick.Stage),
		Observed:   newStateResponse(tick.Observed),
		Post:       newStateResponse(tick.Post),
	}
	if tick.Decided {
		resp.Decision = tick.Decision.String()
	}
	if tick.Submitted {
		resp.Signature = tick.Signature.String()
	}
	if tick.Err != nil {
		resp.Error = tick.Err.Error()
	}
	return resp
}

func newStateResponse(state *raffle.State) *stateResponse {
	if state == nil {
		return nil
	}
	resp := &stateResponse{
		JackpotLamports: state.Jackpot,
		JackpotSOL:      notify.FormatSOL(state.Jackpot),
		EndTime:         state.EndTime,
		Tickets:         len(state.Tickets),
	}
	if state.HasWinner() {
		resp.Winner = state.Winner.String()
	}
	return resp
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
