// Package api exposes Graphix's read/write surface (spec §6.3): the ten
// GraphQL-named operations, reimplemented as JSON endpoints over gorilla/mux
// in the teacher's own idiom (api/server.go, v1_handlers.go), plus a
// websocket round-completion feed and ApiToken bearer-auth middleware.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graphops/graphix/internal/store"
)

// Server holds everything a request handler needs: the Store capability and
// the ApiToken auth middleware. Grounded on the teacher's Server struct
// (api/server_bootstrap.go), trimmed to Graphix's single dependency instead
// of the teacher's many Flow-specific repositories.
type Server struct {
	store store.Store
	auth  *AuthMiddleware
	hub   *roundHub
}

// New constructs a Server. jwtSecret may be empty, in which case only
// X-API-Key auth is usable (JWTs would never verify against an empty key).
func New(st store.Store, jwtSecret string) *Server {
	return &Server{
		store: st,
		auth:  NewAuthMiddleware(jwtSecret, st),
		hub:   newRoundHub(),
	}
}

// Router builds the mux.Router mounting every route (spec §6.3), health,
// Prometheus's own handler, and the websocket feed.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/rounds", s.handleRoundsWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/networks", s.auth.requirePermission("read", s.handleNetworks)).Methods(http.MethodGet)
	r.HandleFunc("/deployments", s.auth.requirePermission("read", s.handleDeployments)).Methods(http.MethodGet)
	r.HandleFunc("/indexers", s.auth.requirePermission("read", s.handleIndexers)).Methods(http.MethodGet)
	r.HandleFunc("/proofsOfIndexing", s.auth.requirePermission("read", s.handleProofsOfIndexing)).Methods(http.MethodGet)
	r.HandleFunc("/liveProofsOfIndexing", s.auth.requirePermission("read", s.handleLiveProofsOfIndexing)).Methods(http.MethodGet)
	r.HandleFunc("/poiAgreementRatios", s.auth.requirePermission("read", s.handlePoiAgreementRatios)).Methods(http.MethodGet)
	r.HandleFunc("/divergenceInvestigationReport/{uuid}", s.auth.requirePermission("read", s.handleDivergenceInvestigationReport)).Methods(http.MethodGet)

	r.HandleFunc("/launchDivergenceInvestigation", s.auth.requirePermission("admin", s.handleLaunchDivergenceInvestigation)).Methods(http.MethodPost)
	r.HandleFunc("/setDeploymentName", s.auth.requirePermission("admin", s.handleSetDeploymentName)).Methods(http.MethodPost)
	r.HandleFunc("/deleteNetwork", s.auth.requirePermission("admin", s.handleDeleteNetwork)).Methods(http.MethodPost)

	return r
}

// BroadcastRoundComplete pushes a round-completion event to every connected
// /ws/rounds client. Wired as poller.Poller's onRoundComplete callback.
func (s *Server) BroadcastRoundComplete() {
	s.hub.broadcast(roundEvent{Type: "round_complete"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeAPIResponse(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}

// apiEnvelope is the response shape every handler writes through, adapted
// from the teacher's apiEnvelope (api/v1_handlers.go): Data on success,
// Error on failure, never both.
type apiEnvelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error interface{} `json:"error,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, status int, data interface{}, meta map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := apiEnvelope{Data: data}
	if meta != nil {
		env.Data = map[string]interface{}{"items": data, "meta": meta}
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("[api] write response: %v", err)
	}
}

// writeAPIError writes code (a graphixerr.Code(...) value, or a literal
// request-validation code) and message in the envelope's error field.
func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := apiEnvelope{Error: map[string]string{"code": code, "message": message}}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("[api] write error: %v", err)
	}
}
