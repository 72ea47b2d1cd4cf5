// Package server is the reference backend: the REST event store, the
// realtime relay, account endpoints and the ledger RPC behind one router.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"connectrpc.com/connect"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/auth"
	"github.com/mmynk/eventlist/internal/middleware"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/persistence"
	"github.com/mmynk/eventlist/internal/rpc"
	"github.com/mmynk/eventlist/internal/storage"
)

const maxBodyBytes = 1 << 20

// Server wires the backend's handlers to a store.
type Server struct {
	store    storage.Store
	authn    auth.Authenticator
	jwt      *auth.JWTManager
	registry *prometheus.Registry
	metrics  *Metrics
	hub      *Hub
}

// Option configures a Server.
type Option func(*Server)

// WithAuth enables accounts and token checks. Without it the REST and
// realtime surfaces trust the userId they are given.
func WithAuth(authn auth.Authenticator, jwt *auth.JWTManager) Option {
	return func(s *Server) {
		s.authn = authn
		s.jwt = jwt
	}
}

// WithRegistry registers the server's metrics with reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New creates a server over store.
func New(store storage.Store, opts ...Option) *Server {
	s := &Server{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector())
	}
	s.metrics = NewMetrics(s.registry)
	s.hub = NewHub(store, s.jwt, s.metrics)
	return s
}

// Hub returns the realtime relay.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.metrics.ObserveHTTP))

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", s.hub).Methods(http.MethodGet)

	if s.jwt != nil && s.authn != nil {
		r.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
		r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	}

	api := r.NewRoute().Subrouter()
	if s.jwt != nil {
		api.Use(middleware.Authenticate(s.jwt))
	}
	api.HandleFunc("/events/{userId}", s.listEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.saveEvent).Methods(http.MethodPost)
	api.HandleFunc("/events/{userId}/{eventId}", s.deleteEvent).Methods(http.MethodDelete)

	interceptors := []connect.Interceptor{middleware.LoggingInterceptor()}
	if s.jwt != nil {
		interceptors = append([]connect.Interceptor{middleware.RequireAuth(s.jwt)}, interceptors...)
	}
	path, handler := rpc.NewLedgerServiceHandler(rpc.NewLedgerService(s.store), connect.WithInterceptors(interceptors...))
	r.PathPrefix(path).Handler(handler)

	return middleware.CORS(r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller resolves the user a request acts for. With auth enabled the token
// identity must match the userId named by the request.
func (s *Server) caller(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	userID = access.Normalize(userID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId is required"))
		return "", false
	}
	if identity := middleware.GetIdentity(r.Context()); s.jwt != nil && !access.Equal(identity, userID) {
		writeError(w, http.StatusForbidden, errors.New("userId does not match token"))
		return "", false
	}
	return userID, true
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r, mux.Vars(r)["userId"])
	if !ok {
		return
	}
	events, err := s.store.ListEvents(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list events", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, persistence.ListResponse{Events: events})
}

func (s *Server) saveEvent(w http.ResponseWriter, r *http.Request) {
	var req persistence.SaveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	userID, ok := s.caller(w, r, req.UserID)
	if !ok {
		return
	}
	if req.EventData == nil || req.EventID == "" {
		writeError(w, http.StatusBadRequest, errors.New("eventId and eventData are required"))
		return
	}
	if req.EventData.ID == "" {
		req.EventData.ID = req.EventID
	}
	if req.EventData.ID != req.EventID {
		writeError(w, http.StatusBadRequest, errors.New("eventId does not match eventData.id"))
		return
	}

	ev := req.EventData
	requestedOwner := ev.OwnerID
	prev, err := s.store.PutEvent(r.Context(), userID, ev)
	s.metrics.write("put", err)
	switch {
	case errors.Is(err, storage.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
		return
	case err != nil:
		slog.Error("Failed to save event", "user_id", userID, "event_id", ev.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	audience := holders(ev)
	if prev != nil {
		audience = append(audience, holders(prev)...)
	}
	s.hub.Track(ev.ID, audience...)
	if requestedOwner != "" && !access.Equal(requestedOwner, ev.OwnerID) {
		// The sender's copy names a different owner than the stored one.
		slog.Warn("Ignored owner change", "user_id", userID, "event_id", ev.ID, "requested_owner", requestedOwner)
		s.hub.Reload(r.Context(), userID)
	}

	slog.Debug("Event saved", "user_id", userID, "event_id", ev.ID, "new", prev == nil)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, ok := s.caller(w, r, vars["userId"])
	if !ok {
		return
	}
	id := models.NewID(vars["eventId"])

	ev, removed, err := s.store.DeleteEvent(r.Context(), userID, id)
	s.metrics.write("delete", err)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		slog.Error("Failed to delete event", "user_id", userID, "event_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	audience := holders(ev)
	if !removed && !slices.Contains(audience, userID) {
		audience = append(audience, userID)
	}
	s.hub.Track(id, audience...)

	slog.Info("Event deleted", "user_id", userID, "event_id", id, "removed", removed)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req persistence.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	user, err := s.authn.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		slog.Error("Failed to register user", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	slog.Info("User registered", "user_id", user.ID, "email", user.Email)
	s.issue(w, http.StatusCreated, user)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req persistence.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	user, err := s.authn.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err)
		return
	case err != nil:
		slog.Error("Failed to authenticate user", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.issue(w, http.StatusOK, user)
}

func (s *Server) issue(w http.ResponseWriter, status int, user *models.User) {
	token, err := s.jwt.Generate(user)
	if err != nil {
		slog.Error("Failed to issue token", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status, persistence.Session{
		Token: token,
		User:  persistence.Account{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
