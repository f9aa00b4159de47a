// Package httpapi is the REST surface: accounts, direct and group chat,
// the transaction ledger, health and metrics.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/service"
)

// TokenParser validates access tokens.
type TokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

// ReadOnlyChecker exposes the ledger health flag.
type ReadOnlyChecker interface {
	ReadOnly() bool
}

// HTTPObserver records request latency.
type HTTPObserver interface {
	ObserveHTTP(method, route string, code int, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTP(string, string, int, time.Duration) {}

// Deps are the collaborators of the API. Metrics, MetricsHandler and
// Realtime may be nil.
type Deps struct {
	Auth           service.AuthService
	Messages       service.MessageService
	Groups         service.GroupService
	Transactions   service.TransactionService
	Health         ReadOnlyChecker
	Metrics        HTTPObserver
	MetricsHandler http.Handler
	Realtime       http.Handler
	Dev            bool
	Logger         *zap.Logger
}

type api struct {
	Deps
}

// NewRouter builds the handler tree.
func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = nopObserver{}
	}
	a := &api{Deps: d}
	log := d.Logger

	auth := requireAuth(d.Auth, log)
	gate := readOnlyGate(d.Health, log)
	authed := func(h http.HandlerFunc) http.Handler { return auth(h) }
	gated := func(h http.HandlerFunc) http.Handler { return auth(gate(h)) }

	r := mux.NewRouter()
	r.Use(accessLog(log, d.Metrics))

	r.HandleFunc("/auth/register", a.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)

	r.Handle("/transactions", gated(a.addTransaction)).Methods(http.MethodPost)
	r.HandleFunc("/transactions", a.chain).Methods(http.MethodGet)

	r.Handle("/chat/single/{userId}", gated(a.sendDirect)).Methods(http.MethodPost)
	r.Handle("/chat/single", authed(a.inbox)).Methods(http.MethodGet)

	r.Handle("/chat/group", authed(a.createGroup)).Methods(http.MethodPost)
	r.Handle("/chat/group/join", authed(a.joinGroup)).Methods(http.MethodPost)
	r.Handle("/chat/group/{groupId}", authed(a.sendGroup)).Methods(http.MethodPost)
	r.Handle("/chat/group", authed(a.groupOverview)).Methods(http.MethodGet)

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler).Methods(http.MethodGet)
	}
	if d.Realtime != nil {
		r.Handle("/ws", d.Realtime).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	return recoverer(log)(cors(d.Dev)(r))
}
