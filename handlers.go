package main

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"time"

	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 1 << 20
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

var (
	errInvalidBody        = fail(http.StatusBadRequest, "Invalid request body")
	errInvalidLogin       = fail(http.StatusUnauthorized, "Invalid email or password")
	errInvalidRefresh     = fail(http.StatusUnauthorized, "Invalid refresh token")
	errExpiredRefresh     = fail(http.StatusUnauthorized, "Expired refresh token")
	errEmailTaken         = fail(http.StatusConflict, "Email already registered")
	errAccountNotFound    = fail(http.StatusNotFound, "Account not found")
	errCredentialNotFound = fail(http.StatusNotFound, "Credential not found")
	errClientNotFound     = fail(http.StatusNotFound, "Client not found")
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fail(http.StatusBadRequest, "Email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fail(http.StatusBadRequest, "Invalid email")
	}
	return nil
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength {
		return fail(http.StatusBadRequest, "Password must be at least 8 characters")
	}
	if len(p) > maxPasswordLength {
		return fail(http.StatusBadRequest, "Password must be at most 72 bytes")
	}
	return nil
}

type accountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountResponse(p *Principal, c *Credential) accountResponse {
	return accountResponse{ID: p.ID, Kind: p.Kind.String(), Name: p.Name, Email: c.Email, CreatedAt: p.CreatedAt}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int64     `json:"expires_in"`
}

func (a *App) newTokenResponse(t *Token) tokenResponse {
	return tokenResponse{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    string(SchemeBearer),
		ExpiresAt:    t.AccessExpiresAt,
		ExpiresIn:    int64(t.AccessExpiresAt.Sub(a.now()).Seconds()),
	}
}

// createPrincipal registers a principal of kind k together with its credential.
func (a *App) createPrincipal(w http.ResponseWriter, r *http.Request, k Kind) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if err := validateEmail(req.Email); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if err := validatePassword(req.Password); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	p, cred, err := a.DB.CreatePrincipal(r.Context(), k, req.Name, req.Email, hashed)
	if err != nil {
		a.writeError(w, r, err, ErrorTable{CodeAlreadyExists: errEmailTaken}, nil)
		return
	}
	a.log.Info("principal created", zap.String("kind", k.String()), zap.Int64("id", p.ID))
	writeJSON(w, http.StatusCreated, newAccountResponse(p, cred))
}

// HandleRegister registers a user. POST /api/v1/auth/register
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	a.createPrincipal(w, r, KindUser)
}

// HandleLogin exchanges email and password for a token pair. POST /api/v1/auth/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		a.writeError(w, r, errInternal, nil, nil)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}

	cred, err := a.DB.GetCredentialByEmail(r.Context(), req.Email)
	if err != nil {
		if codeOf(err) == CodeNotFound {
			comparePassword(dummySecretHash(), req.Password)
		}
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errInvalidLogin}, nil)
		return
	}
	if !comparePassword(cred.Password, req.Password) {
		a.writeFailure(w, r, errInvalidLogin)
		return
	}

	t, err := a.issuer.issue(client, cred)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	t, err = a.DB.CreateToken(r.Context(), t)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if a.metrics != nil {
		a.metrics.issued.Inc()
	}
	writeJSON(w, http.StatusOK, a.newTokenResponse(t))
}

// HandleRefresh rotates a token pair. The refresh token must have been issued
// to the calling client. POST /api/v1/auth/refresh
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		a.writeError(w, r, errInternal, nil, nil)
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if req.RefreshToken == "" {
		a.writeFailure(w, r, fail(http.StatusBadRequest, "Refresh token is required"))
		return
	}

	old, err := a.DB.GetTokenByRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errInvalidRefresh}, nil)
		return
	}
	if old.ClientID != client.ID {
		a.writeFailure(w, r, errInvalidRefresh)
		return
	}
	if !a.now().Before(old.RefreshExpiresAt) {
		a.writeFailure(w, r, errExpiredRefresh)
		return
	}
	cred, err := a.DB.GetCredentialByID(r.Context(), old.CredentialID)
	if err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errInvalidRefresh}, nil)
		return
	}

	next, err := a.issuer.issue(client, cred)
	if err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	next, err = a.DB.RotateToken(r.Context(), old.ID, next)
	if err != nil {
		// a concurrent refresh already consumed old
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errInvalidRefresh}, nil)
		return
	}
	if a.metrics != nil {
		a.metrics.issued.Inc()
	}
	writeJSON(w, http.StatusOK, a.newTokenResponse(next))
}

// HandleLogout deletes the presented token. POST /api/v1/auth/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	t, ok := TokenFromContext(r.Context())
	if !ok {
		a.writeError(w, r, errInternal, nil, nil)
		return
	}
	if err := a.DB.DeleteToken(r.Context(), t.ID); err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errInvalidToken}, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdateCredential changes the caller's email and/or password.
// PATCH /api/v1/me/credential
func (a *App) HandleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	t, ok := TokenFromContext(r.Context())
	if !ok {
		a.writeError(w, r, errInternal, nil, nil)
		return
	}
	var req struct {
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err, nil, nil)
		return
	}
	if req.Email == nil && req.Password == nil {
		a.writeFailure(w, r, fail(http.StatusBadRequest, "Email or password is required"))
		return
	}

	var upd CredentialUpdate
	if req.Email != nil {
		if err := validateEmail(*req.Email); err != nil {
			a.writeError(w, r, err, nil, nil)
			return
		}
		upd.Email = req.Email
	}
	if req.Password != nil {
		if err := validatePassword(*req.Password); err != nil {
			a.writeError(w, r, err, nil, nil)
			return
		}
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			a.writeError(w, r, err, nil, nil)
			return
		}
		upd.Password = &hashed
	}

	cred, err := a.DB.UpdateCredential(r.Context(), t.CredentialID, upd)
	if err != nil {
		a.writeError(w, r, err, ErrorTable{CodeNotFound: errInvalidToken, CodeAlreadyExists: errEmailTaken}, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    cred.ID,
		"email": cred.Email,
		"kind":  cred.Owner.Kind.String(),
	})
}

// HandleReady reports whether the store is reachable. GET /ready
func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.Ping(r.Context()); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
