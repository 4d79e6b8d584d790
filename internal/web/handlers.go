package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"calmonitor/internal/auth"
	"calmonitor/internal/compliance"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
	"calmonitor/internal/roster"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Authenticated      bool               `json:"authenticated"`
	TeamCount          int                `json:"teamCount"`
	Roles              []string           `json:"roles"`
	Threshold          int                `json:"threshold"`
	SecondaryThreshold int                `json:"secondaryThreshold"`
	Policy             compliance.Policy  `json:"policy"`
	Timezone           string             `json:"timezone"`
	ReportDays         int                `json:"reportDays"`
	NextCheck          *time.Time         `json:"nextCheck,omitempty"`
	Team               []model.TeamMember `json:"team"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settings := s.opts.Runner.Settings()
	resp := statusResponse{
		Authenticated:      s.opts.Session != nil && s.opts.Session.Authenticated(),
		Roles:              []string{},
		Threshold:          settings.Thresholds.Primary,
		SecondaryThreshold: settings.Thresholds.Secondary,
		Policy:             settings.Policy,
		Timezone:           settings.Location.String(),
		ReportDays:         s.opts.ReportDays,
		Team:               []model.TeamMember{},
	}
	if s.opts.Roster != nil {
		members, err := s.opts.Roster.Members(r.Context())
		if err != nil {
			appLog.Error("status: roster unavailable", err)
			writeError(w, http.StatusInternalServerError, "roster unavailable")
			return
		}
		resp.Team = members
		resp.TeamCount = len(members)
		if roles := roster.Roles(members); roles != nil {
			resp.Roles = roles
		}
	}
	if s.opts.NextCheck != nil {
		if next := s.opts.NextCheck(); !next.IsZero() {
			resp.NextCheck = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuth redirects to the provider's consent page.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.opts.OAuth == nil {
		writeError(w, http.StatusNotFound, "OAuth is not configured for this provider")
		return
	}
	state := s.newState()
	http.Redirect(w, r, s.opts.OAuth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.opts.OAuth == nil {
		writeError(w, http.StatusNotFound, "OAuth is not configured for this provider")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	if !s.consumeState(q.Get("state")) {
		writeError(w, http.StatusBadRequest, "invalid or expired OAuth state")
		return
	}
	if err := s.opts.OAuth.Exchange(r.Context(), q.Get("code")); err != nil {
		appLog.Error("oauth exchange failed", err)
		writeError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}
	appLog.Info("authentication successful")
	http.Redirect(w, r, "/api/status", http.StatusFound)
}

func (s *Server) newState() string {
	state := uuid.NewString()
	now := time.Now()
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(oauthStateTTL)
	return state
}

func (s *Server) consumeState(state string) bool {
	if state == "" {
		return false
	}
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	exp, ok := s.states[state]
	delete(s.states, state)
	return ok && time.Now().Before(exp)
}

// handleCheckCalendars returns the snapshot for ?date=YYYY-MM-DD, today by
// default.
func (s *Server) handleCheckCalendars(w http.ResponseWriter, r *http.Request) {
	date := s.opts.Runner.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", v))
			return
		}
		date = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	res, err := s.opts.Runner.CheckDay(ctx, s.opts.Session, date)
	if err != nil {
		if res != nil && ctx.Err() != nil {
			appLog.Warn("check interrupted, returning partial snapshot", "checked", len(res.Checked), "total", res.TotalMembers)
			writeJSON(w, http.StatusOK, res)
			return
		}
		s.fail(w, err, "Failed to check calendars")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGenerateReport streams the compliance matrix for ?days=N as CSV.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntDefault(r.URL.Query().Get("days"), s.opts.ReportDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	m, err := s.opts.Runner.BuildReport(ctx, s.opts.Session, days)
	if err != nil {
		s.fail(w, err, "Failed to generate report")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, compliance.ReportFilename(days)))
	w.WriteHeader(http.StatusOK)
	if err := m.WriteCSV(w); err != nil {
		appLog.Error("failed to write CSV response", err)
	}
}

// fail maps engine errors: no credential is 401, bad input 400, anything
// else 500 with msg.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	case compliance.IsConfigurationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error(msg, err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}
