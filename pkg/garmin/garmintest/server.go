// Package garmintest provides an in-process fake of the Connect API for
// tests. It serves canned wellness payloads, a sliceable activities
// feed, and scriptable failure modes (login failures, rate limiting,
// session expiry).
package garmintest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
)

// Server is a fake Connect API backed by httptest.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	email        string
	password     string
	token        string
	tokenSeq     int
	wellness     map[string]json.RawMessage // "steps/2023-01-01" -> payload
	activities   []json.RawMessage
	overlapPages bool
	profile      json.RawMessage

	failLogins    int
	rateLimitNext int

	loginCalls int
	dataCalls  int
}

// New starts a fake server accepting any credentials until
// SetCredentials is called.
func New() *Server {
	s := &Server{
		wellness: make(map[string]json.RawMessage),
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	data := r.NewRoute().Subrouter()
	data.Use(s.requireSession)
	data.HandleFunc("/wellness/{date}/{metric}", s.handleWellness).Methods(http.MethodGet)
	data.HandleFunc("/activities", s.handleActivities).Methods(http.MethodGet)
	data.HandleFunc("/userprofile", s.handleProfile).Methods(http.MethodGet)

	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// SetCredentials makes logins with any other email/password fail.
func (s *Server) SetCredentials(email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email, s.password = email, password
}

// SetWellness registers the payload served for one metric endpoint on
// one date. metric is the URL segment: steps, heartrate, stress, sleep.
func (s *Server) SetWellness(metric, date string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("garmintest: marshal wellness payload: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wellness[metric+"/"+date] = raw
}

// SetActivities registers the flat activities feed, newest first.
func (s *Server) SetActivities(entries ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = s.activities[:0]
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			panic(fmt.Sprintf("garmintest: marshal activity: %v", err))
		}
		s.activities = append(s.activities, raw)
	}
}

// OverlapPages makes every activities page after the first repeat the
// last entry of the previous page, reproducing the upstream boundary
// overlap that deduplication exists for.
func (s *Server) OverlapPages(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlapPages = on
}

// SetProfile registers the user profile document.
func (s *Server) SetProfile(payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("garmintest: marshal profile: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = raw
}

// FailNextLogins makes the next n login attempts return 500.
func (s *Server) FailNextLogins(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogins = n
}

// RateLimitNext makes the next n data requests return 429.
func (s *Server) RateLimitNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitNext = n
}

// ExpireSession invalidates the current token. Data requests fail with
// 401 until a new login is performed.
func (s *Server) ExpireSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// LoginCount reports how many login attempts the server has seen.
func (s *Server) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

// DataRequestCount reports how many authenticated data requests the
// server has seen.
func (s *Server) DataRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataCalls
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++

	if s.failLogins > 0 {
		s.failLogins--
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if s.email != "" && (req.Email != s.email || req.Password != s.password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	s.tokenSeq++
	s.token = fmt.Sprintf("token-%d", s.tokenSeq)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      s.token,
		"expires_in": 3600,
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.token != "" && r.Header.Get("Authorization") == "Bearer "+s.token
		if ok {
			s.dataCalls++
			if s.rateLimitNext > 0 {
				s.rateLimitNext--
				s.mu.Unlock()
				w.Header().Set("Retry-After", "1")
				http.Error(w, "slow down", http.StatusTooManyRequests)
				return
			}
		}
		s.mu.Unlock()

		if !ok {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWellness(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	raw, ok := s.wellness[vars["metric"]+"/"+vars["date"]]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	if s.overlapPages && start > 0 {
		start--
	}
	var page []json.RawMessage
	if start < len(s.activities) {
		end := start + limit
		if end > len(s.activities) {
			end = len(s.activities)
		}
		page = s.activities[start:end]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	raw := s.profile
	s.mu.Unlock()
	if raw == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}
