package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenParser validates access tokens.
type TokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

// Handler upgrades authenticated requests to websocket clients.
type Handler struct {
	auth     TokenParser
	groups   Membership
	hub      *Hub
	dispatch *Dispatcher
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler builds the /ws endpoint. checkOrigin nil accepts same-origin requests only.
func NewHandler(auth TokenParser, groups Membership, hub *Hub, dispatch *Dispatcher, checkOrigin func(*http.Request) bool, logger *zap.Logger) *Handler {
	return &Handler{
		auth:     auth,
		groups:   groups,
		hub:      hub,
		dispatch: dispatch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log: logger,
	}
}

// BearerToken extracts the token from the Authorization header or the token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok := BearerToken(r)
	userID, err := h.auth.ParseToken(tok)
	if tok == "" || err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error":"unauthorized"}`))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		h.log.Debug("websocket upgrade", zap.Error(err))
		return
	}

	ctx := r.Context()
	c := newClient(conn, userID, h.log)
	h.hub.Register(c)
	defer h.hub.Unregister(c)

	groups, err := h.groups.GroupIDsFor(ctx, userID)
	if err != nil {
		h.log.Warn("load group rooms", zap.Stringer("user", userID), zap.Error(err))
	}
	for _, g := range groups {
		h.hub.Join(c, GroupRoom(g))
	}
	h.log.Info("realtime connected", zap.Stringer("user", userID), zap.Int("groups", len(groups)))

	go c.writePump()
	c.readPump(ctx, func(ctx context.Context, f Frame) { h.dispatch.Dispatch(ctx, c, f) })
	h.log.Info("realtime disconnected", zap.Stringer("user", userID))
}
