package httpapi

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/service"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse hands the generated key pairs to the client once.
type RegisterResponse struct {
	OK            bool          `json:"ok"`
	UserID        uuid.UUID     `json:"userId"`
	EncryptionKey model.KeyPair `json:"encryptionKey"`
	SigningKey    model.KeyPair `json:"signingKey"`
}

// LoginResponse carries the access token.
type LoginResponse struct {
	OK        bool      `json:"ok"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	reg, err := a.Auth.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{
		OK:            true,
		UserID:        reg.UserID,
		EncryptionKey: reg.EncryptionKey,
		SigningKey:    reg.SigningKey,
	})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	tok, u, err := a.Auth.Login(r.Context(), in.Username, in.Password, r.RemoteAddr)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		OK:        true,
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt,
		UserID:    u.ID,
		Username:  u.Username,
	})
}

func (a *api) addTransaction(w http.ResponseWriter, r *http.Request) {
	var tx model.Transaction
	if err := decodeJSON(r, w, &tx); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	b, err := a.Transactions.Add(r.Context(), tx)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "transaction added",
		"index":   b.Index,
		"hash":    b.Hash,
	})
}

func (a *api) chain(w http.ResponseWriter, r *http.Request) {
	view, err := a.Transactions.Chain(r.Context())
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, invalidID(name)
	}
	return id, nil
}

func (a *api) sendDirect(w http.ResponseWriter, r *http.Request) {
	from, _ := UserIDFromCtx(r.Context())
	to, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	var in service.SendDirect
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	m, err := a.Messages.SendDirect(r.Context(), from, to, in)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]any{"id": m.ID, "ledgerIndex": m.LedgerIndex}))
}

func (a *api) inbox(w http.ResponseWriter, r *http.Request) {
	viewer, _ := UserIDFromCtx(r.Context())
	in, err := a.Messages.Inbox(r.Context(), viewer)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]any{"contacts": in.Contacts, "messages": in.Messages}))
}

type createGroupRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type joinGroupRequest struct {
	GroupID string `json:"groupId"`
}

func (a *api) createGroup(w http.ResponseWriter, r *http.Request) {
	creator, _ := UserIDFromCtx(r.Context())
	var in createGroupRequest
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	g, err := a.Groups.Create(r.Context(), creator, in.Name, in.Key)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, okBody(map[string]any{"group": g}))
}

func (a *api) joinGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	var in joinGroupRequest
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	if in.GroupID == "" {
		writeError(w, r, a.Logger, errs.Invalid(errs.ErrMissingField, "groupId is required"))
		return
	}
	groupID, err := uuid.FromString(in.GroupID)
	if err != nil {
		writeError(w, r, a.Logger, invalidID("groupId"))
		return
	}
	g, err := a.Groups.Join(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]any{"group": g}))
}

func (a *api) sendGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	groupID, err := pathID(r, "groupId")
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	var in service.SendGroup
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	m, err := a.Groups.Send(r.Context(), userID, groupID, in)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]any{"id": m.ID}))
}

func (a *api) groupOverview(w http.ResponseWriter, r *http.Request) {
	viewer, _ := UserIDFromCtx(r.Context())
	ov, err := a.Groups.Overview(r.Context(), viewer)
	if err != nil {
		writeError(w, r, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]any{"groups": ov.Groups, "messages": ov.Messages}))
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	state := "healthy"
	if a.Health.ReadOnly() {
		state = "read-only"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"ledger":   state,
		"readOnly": a.Health.ReadOnly(),
	})
}
