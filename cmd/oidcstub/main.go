// oidcstub is a development identity provider. It speaks just enough
// of the authorization-code flow for the generic "oidc" provider to
// complete a federated login against a local server. Never deploy it.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type account struct {
	Subject string
	Email   string
	Name    string
}

type stub struct {
	mu       sync.Mutex
	accounts map[string]account // email -> account
	codes    map[string]string  // auth code -> email
	tokens   map[string]string  // access token -> email
}

func newStub() *stub {
	return &stub{
		accounts: map[string]account{},
		codes:    map[string]string{},
		tokens:   map[string]string{},
	}
}

func main() {
	addr := getenvDefault("OIDC_STUB_ADDR", "127.0.0.1:4480")
	s := newStub()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", s.handleAuthorize)
	mux.HandleFunc("POST /oauth/token", s.handleToken)
	mux.HandleFunc("GET /userinfo", s.handleUserinfo)
	mux.HandleFunc("PUT /accounts", s.handlePutAccount)

	log.Printf("oidc stub listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// handlePutAccount seeds a test account: {"email": ..., "name": ...}.
func (s *stub) handlePutAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(in.Email)]
	if !ok {
		acct = account{Subject: randomToken(), Email: strings.ToLower(in.Email), Name: in.Name}
		s.accounts[acct.Email] = acct
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"subject": acct.Subject})
}

// handleAuthorize skips the login screen: the email comes straight
// from the query and the code is redirected back immediately.
func (s *stub) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(r.URL.Query().Get("login_hint"))
	redirect := r.URL.Query().Get("redirect_uri")
	state := r.URL.Query().Get("state")
	if email == "" || redirect == "" {
		http.Error(w, "login_hint and redirect_uri required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if _, ok := s.accounts[email]; !ok {
		s.accounts[email] = account{Subject: randomToken(), Email: email}
	}
	code := randomToken()
	s.codes[code] = email
	s.mu.Unlock()

	u, err := url.Parse(redirect)
	if err != nil {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (s *stub) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	code := r.PostFormValue("code")
	s.mu.Lock()
	email, ok := s.codes[code]
	if ok {
		delete(s.codes, code)
	}
	var token string
	if ok {
		token = randomToken()
		s.tokens[token] = email
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(time.Hour.Seconds()),
	})
}

func (s *stub) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	email, ok := s.tokens[token]
	acct := s.accounts[email]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":   acct.Subject,
		"email": acct.Email,
		"name":  acct.Name,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
