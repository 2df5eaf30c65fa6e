package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type clientResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func newClientResponse(c *Client) clientResponse {
	return clientResponse{ID: c.ID, Name: c.Name, ClientID: c.ClientID, CreatedAt: c.CreatedAt}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fail(http.StatusBadRequest, "Invalid id")
	}
	return id, nil
}

// HandleGetMe returns the caller's account. GET /api/v1/{users,shops,admin}/me
func (a *App) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		a.writeError(w, r, errInternal, nil, nil)
		return
	}
	p, err := a.DB.GetPrincipal(r.Context(), cred.Owner)
	if err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errAccountNotFound}, nil)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(p, cred))
}

// HandleDeleteMe deletes the caller's account and every token issued to it.
// DELETE /api/v1/{users,shops}/me
func (a *App) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		a.writeError(w, r, errInternal, nil, nil)
		return
	}
	if err := a.DB.DeleteCredential(r.Context(), cred.ID); err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errAccountNotFound}, nil)
		return
	}
	a.log.Info("account deleted", zap.String("kind", cred.Owner.Kind.String()), zap.Int64("credential_id", cred.ID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateClient registers an API client. The secret is only returned here.
// POST /api/v1/admin/clients
func (a *App) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if req.Name == "" {
		a.writeFailure(w, r, fail(http.StatusBadRequest, "Name is required"))
		return
	}

	clientID, secret, err := newClientCredentials()
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	hashed, err := hashPassword(secret)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	c, err := a.DB.CreateClient(r.Context(), clientID, hashed, req.Name)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	a.log.Info("client created", zap.Int64("id", c.ID), zap.String("client_id", c.ClientID))

	resp := newClientResponse(c)
	resp.ClientSecret = secret
	writeJSON(w, http.StatusCreated, resp)
}

// HandleListClients lists API clients without secrets. GET /api/v1/admin/clients
func (a *App) HandleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.DB.ListClients(r.Context())
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	out := make([]clientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, newClientResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleDeleteClient deletes a client and revokes every token it issued.
// DELETE /api/v1/admin/clients/{id}
func (a *App) HandleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if err := a.DB.DeleteClient(r.Context(), id); err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errClientNotFound}, nil)
		return
	}
	a.log.Info("client deleted", zap.Int64("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreatePrincipal creates a shop or admin account.
// POST /api/v1/admin/{shops,admins}
func (a *App) HandleCreatePrincipal(k Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.createPrincipal(w, r, k)
	}
}

// HandleDeleteCredential deletes any account by credential id.
// DELETE /api/v1/admin/credentials/{id}
func (a *App) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if err := a.DB.DeleteCredential(r.Context(), id); err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errCredentialNotFound}, nil)
		return
	}
	a.log.Info("credential deleted", zap.Int64("credential_id", id))
	w.WriteHeader(http.StatusNoContent)
}
