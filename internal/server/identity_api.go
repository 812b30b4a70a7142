package server

import (
	"net/http"
	"time"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/identity"
)

type userView struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	OrgID        string  `json:"org_id"`
	DepartmentID *string `json:"department_id"`
}

func viewUser(u *domain.User) userView {
	v := userView{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
		Role:  string(u.Role),
		OrgID: u.OrgID.String(),
	}
	if u.DepartmentID != nil {
		s := u.DepartmentID.String()
		v.DepartmentID = &s
	}
	return v
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	user, err := h.identity.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewUser(user))
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	user, token, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	setSessionCookie(w, r, token)
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (h *handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     identity.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleProviders(w http.ResponseWriter, _ *http.Request) {
	type providerView struct {
		Name string `json:"name"`
	}
	views := make([]providerView, 0, len(h.providers))
	for _, p := range h.providers {
		views = append(views, providerView{Name: string(p.Name)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

// handleFederatedLogin finishes a federated flow: the OIDC handshake
// itself happens against the provider; this endpoint receives the
// verified identity assertion.
func (h *handler) handleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Email    string `json:"email"`
		Name     string `json:"name"`
		Subject  string `json:"subject"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if !h.providerEnabled(req.Provider) {
		writeErrorCode(w, r, http.StatusBadRequest, "provider_disabled", "identity provider not configured")
		return
	}
	user, token, err := h.identity.FederatedLogin(r.Context(), req.Email, req.Name, req.Subject)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	setSessionCookie(w, r, token)
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (h *handler) providerEnabled(name string) bool {
	for _, p := range h.providers {
		if string(p.Name) == name {
			return true
		}
	}
	return false
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     identity.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(12 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}
