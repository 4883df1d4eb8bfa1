package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gridsight/gridsight/internal/auth"
	"github.com/gridsight/gridsight/internal/engine"
	"github.com/gridsight/gridsight/pkg/telemetry"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	summaryTopN      = 5
)

// LoginRequest is the body for POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Username == "" || req.Password == "" {
		BadRequest(w, "username and password are required", r.URL.Path)
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			Unauthorized(w, "invalid credentials", r.URL.Path)
			return
		}
		s.logger.Error("authenticate failed", zap.Error(err))
		InternalError(w, "authentication unavailable", r.URL.Path)
		return
	}

	token, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		s.logger.Error("issue token failed", zap.Error(err))
		InternalError(w, "could not issue token", r.URL.Path)
		return
	}

	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: int(s.tokens.AccessTokenTTL().Seconds()),
		Username:  user.Username,
		Role:      string(user.Role),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := decisionFilterFromQuery(r)
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	decisions, err := s.decisions.ListDecisions(r.Context(), filter)
	if err != nil {
		s.logger.Error("list decisions failed", zap.Error(err))
		InternalError(w, "could not list decisions", r.URL.Path)
		return
	}
	if decisions == nil {
		decisions = []telemetry.Decision{}
	}
	WriteJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := decisionFilterFromQuery(r)
	if err != nil {
		BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	filter.AlertOnly = true

	decisions, err := s.decisions.ListDecisions(r.Context(), filter)
	if err != nil {
		s.logger.Error("list alerts failed", zap.Error(err))
		InternalError(w, "could not list alerts", r.URL.Path)
		return
	}
	if decisions == nil {
		decisions = []telemetry.Decision{}
	}
	WriteJSON(w, http.StatusOK, decisions)
}

// SummaryResponse pairs a run record with its aggregates.
type SummaryResponse struct {
	Run     *engine.Run        `json:"run"`
	Summary *engine.RunSummary `json:"summary"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	run, err := s.resolveRun(r)
	if err != nil {
		s.logger.Error("resolve run failed", zap.Error(err))
		InternalError(w, "could not resolve run", r.URL.Path)
		return
	}
	if run == nil {
		NotFound(w, "no matching engine run", r.URL.Path)
		return
	}

	summary, err := s.decisions.Summarize(r.Context(), run.ID, summaryTopN)
	if err != nil {
		s.logger.Error("summarize run failed", zap.Error(err))
		InternalError(w, "could not summarize run", r.URL.Path)
		return
	}
	WriteJSON(w, http.StatusOK, SummaryResponse{Run: run, Summary: summary})
}

func (s *Server) handleBaselines(w http.ResponseWriter, r *http.Request) {
	run, err := s.resolveRun(r)
	if err != nil {
		s.logger.Error("resolve run failed", zap.Error(err))
		InternalError(w, "could not resolve run", r.URL.Path)
		return
	}
	if run == nil {
		NotFound(w, "no matching engine run", r.URL.Path)
		return
	}

	decisions, err := s.decisions.ListDecisions(r.Context(), engine.DecisionFilter{RunID: run.ID})
	if err != nil {
		s.logger.Error("list decisions failed", zap.Error(err))
		InternalError(w, "could not load run decisions", r.URL.Path)
		return
	}

	readings := make([]telemetry.Reading, len(decisions))
	for i := range decisions {
		readings[i] = decisions[i].Reading
	}
	WriteJSON(w, http.StatusOK, engine.BuildBaselines(readings).All())
}

// resolveRun picks the run named by the "run" query parameter, falling back
// to the most recent one. A nil run with nil error means no matching run
// exists.
func (s *Server) resolveRun(r *http.Request) (*engine.Run, error) {
	if id := r.URL.Query().Get("run"); id != "" {
		return s.decisions.GetRun(r.Context(), id)
	}
	return s.decisions.LatestRun(r.Context())
}

func decisionFilterFromQuery(r *http.Request) (engine.DecisionFilter, error) {
	q := r.URL.Query()
	f := engine.DecisionFilter{
		RunID:   q.Get("run"),
		MeterID: q.Get("meter"),
		Pattern: telemetry.Pattern(q.Get("pattern")),
		Limit:   defaultListLimit,
	}

	if v := q.Get("min_risk"); v != "" {
		risk, err := strconv.ParseFloat(v, 64)
		if err != nil || risk < 0 || risk > 1 {
			return f, errors.New("min_risk must be a number between 0 and 1")
		}
		f.MinRisk = risk
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("until must be an RFC 3339 timestamp")
		}
		f.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return f, errors.New("limit must be an integer between 1 and 1000")
		}
		f.Limit = n
	}
	return f, nil
}
