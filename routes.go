package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router wires every endpoint with its guard. Principal-specific routes always
// go through requirePrincipal so the bearer check precedes the affiliation check.
// CORS wraps the mux router so that preflight requests are answered before
// method matching.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.Logging)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// any principal; registered before the /auth subrouter so Basic is not required
	bearer := a.guard(a.validAccessToken)
	v1.Handle("/auth/logout", bearer(http.HandlerFunc(a.HandleLogout))).Methods(http.MethodPost)
	v1.Handle("/me/credential", bearer(http.HandlerFunc(a.HandleUpdateCredential))).Methods(http.MethodPatch)

	// API client authenticated
	client := v1.PathPrefix("/auth").Subrouter()
	client.Use(a.guard(a.validBasicAuth))
	client.Use(a.RateLimit)
	client.HandleFunc("/register", a.HandleRegister).Methods(http.MethodPost)
	client.HandleFunc("/login", a.HandleLogin).Methods(http.MethodPost)
	client.HandleFunc("/refresh", a.HandleRefresh).Methods(http.MethodPost)

	users := v1.PathPrefix("/users").Subrouter()
	users.Use(a.requirePrincipal(KindUser))
	users.HandleFunc("/me", a.HandleGetMe).Methods(http.MethodGet)
	users.HandleFunc("/me", a.HandleDeleteMe).Methods(http.MethodDelete)

	shops := v1.PathPrefix("/shops").Subrouter()
	shops.Use(a.requirePrincipal(KindShop))
	shops.HandleFunc("/me", a.HandleGetMe).Methods(http.MethodGet)
	shops.HandleFunc("/me", a.HandleDeleteMe).Methods(http.MethodDelete)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(a.requirePrincipal(KindAdmin))
	admin.HandleFunc("/me", a.HandleGetMe).Methods(http.MethodGet)
	admin.HandleFunc("/clients", a.HandleCreateClient).Methods(http.MethodPost)
	admin.HandleFunc("/clients", a.HandleListClients).Methods(http.MethodGet)
	admin.HandleFunc("/clients/{id:[0-9]+}", a.HandleDeleteClient).Methods(http.MethodDelete)
	admin.HandleFunc("/shops", a.HandleCreatePrincipal(KindShop)).Methods(http.MethodPost)
	admin.HandleFunc("/admins", a.HandleCreatePrincipal(KindAdmin)).Methods(http.MethodPost)
	admin.HandleFunc("/credentials/{id:[0-9]+}", a.HandleDeleteCredential).Methods(http.MethodDelete)

	return a.CORS(r)
}
