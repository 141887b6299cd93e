// Package apitest provides an in-process fake of the fleet admin API for
// tests. It mints real signed tokens, enforces the anti-forgery protocol, and
// exposes switchable failure modes plus request counters so tests can assert
// exactly how many network calls a scenario produced.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/iotfleet/fleetadmin/mutation"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TestEmail and TestPassword are the seeded admin account.
	TestEmail    = "admin@example.com"
	TestPassword = "correct-horse-battery"
	// TestUserID is the seeded admin account's subject claim.
	TestUserID = "user-admin-1"
)

// collection is one in-memory entity collection keyed by its id or slug field.
type collection struct {
	keyField string
	order    []string
	items    map[string]map[string]any
}

// Server is the fake fleet API.
type Server struct {
	httpSrv *httptest.Server
	secret  []byte
	pwHash  []byte
	ttl     time.Duration

	lock         sync.Mutex
	collections  map[string]*collection
	csrfIssued   map[string]bool
	refreshCalls int
	entityCalls  int
	failRefresh  bool
	rejectAuth   bool
	csrfDown     bool
	failNext     *plannedFailure
}

type plannedFailure struct {
	status int
	body   mutation.Response
}

// ServerOption defines a function type to modify the Server instance.
type ServerOption func(*Server)

// WithTokenTTL sets how long minted tokens live (default one hour).
func WithTokenTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.ttl = ttl
	}
}

func NewServer(options ...ServerOption) *Server {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	s := &Server{
		secret: []byte(uuid.New().String()),
		pwHash: hash,
		ttl:    time.Hour,
		collections: map[string]*collection{
			"devices":   {keyField: "id", items: map[string]map[string]any{}},
			"sensors":   {keyField: "id", items: map[string]map[string]any{}},
			"users":     {keyField: "id", items: map[string]map[string]any{}},
			"companies": {keyField: "slug", items: map[string]map[string]any{}},
			"dealers":   {keyField: "slug", items: map[string]map[string]any{}},
		},
		csrfIssued: map[string]bool{},
	}

	for _, opt := range options {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/csrf", s.handleCSRF).Methods(http.MethodGet)
	r.HandleFunc("/api/logout", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }).Methods(http.MethodPost)

	entity := r.PathPrefix("/api/{collection}").Subrouter()
	entity.Use(s.authMiddleware)
	entity.HandleFunc("", s.handleList).Methods(http.MethodGet)
	entity.HandleFunc("", s.handleCreate).Methods(http.MethodPost)
	entity.HandleFunc("/{key}", s.handleUpdate).Methods(http.MethodPut)
	entity.HandleFunc("/{key}", s.handleDelete).Methods(http.MethodDelete)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL is the server's base URL.
func (s *Server) URL() string { return s.httpSrv.URL }

func (s *Server) Close() { s.httpSrv.Close() }

// RefreshCalls reports how many times the refresh endpoint was hit.
func (s *Server) RefreshCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.refreshCalls
}

// EntityCalls reports how many entity (list/create/update/delete) requests
// reached the server.
func (s *Server) EntityCalls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.entityCalls
}

// SetFailRefresh makes the refresh endpoint reject every call.
func (s *Server) SetFailRefresh(fail bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failRefresh = fail
}

// SetRejectAuth makes every authenticated endpoint return 401 regardless of
// the presented token.
func (s *Server) SetRejectAuth(reject bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.rejectAuth = reject
}

// SetCSRFDown makes anti-forgery token issuance fail.
func (s *Server) SetCSRFDown(down bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.csrfDown = down
}

// FailNextMutation makes the next create/update/delete answer with the given
// status and error body, then clears itself.
func (s *Server) FailNextMutation(status int, body mutation.Response) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failNext = &plannedFailure{status: status, body: body}
}

// Seed inserts records into a collection, bypassing auth and CSRF.
func (s *Server) Seed(name string, records ...any) {
	s.lock.Lock()
	defer s.lock.Unlock()

	col := s.collections[name]
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			panic(err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			panic(err)
		}
		key, _ := m[col.keyField].(string)
		if _, exists := col.items[key]; !exists {
			col.order = append(col.order, key)
		}
		col.items[key] = m
	}
}

// MintToken signs a token for the test user with the given time to live.
// Negative ttl produces an already-expired token.
func (s *Server) MintToken(ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":   TestUserID,
		"roles": []string{"super_admin"},
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
		"jti":   uuid.New().String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, mutation.Response{Error: "malformed body"})
		return
	}

	if body.Email != TestEmail || bcrypt.CompareHashAndPassword(s.pwHash, []byte(body.Password)) != nil {
		writeError(w, http.StatusUnauthorized, mutation.Response{Error: "invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": s.MintToken(s.ttl)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	s.refreshCalls++
	fail := s.failRefresh
	s.lock.Unlock()

	if fail {
		writeError(w, http.StatusUnauthorized, mutation.Response{Error: "refresh rejected"})
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, mutation.Response{Error: "missing token"})
		return
	}

	// An expired token is fine here; the refresh endpoint only cares that it
	// was ours.
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, err := parser.Parse(body.Token, func(*jwt.Token) (any, error) { return s.secret, nil }); err != nil {
		writeError(w, http.StatusUnauthorized, mutation.Response{Error: "unknown token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": s.MintToken(s.ttl)})
}

func (s *Server) handleCSRF(w http.ResponseWriter, _ *http.Request) {
	s.lock.Lock()
	down := s.csrfDown
	s.lock.Unlock()

	if down {
		writeError(w, http.StatusInternalServerError, mutation.Response{Error: "csrf issuer unavailable"})
		return
	}

	token := uuid.New().String()
	s.lock.Lock()
	s.csrfIssued[token] = true
	s.lock.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		s.entityCalls++
		reject := s.rejectAuth
		s.lock.Unlock()

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if reject || raw == "" {
			writeError(w, http.StatusUnauthorized, mutation.Response{Error: "unauthorized"})
			return
		}

		token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil })
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, mutation.Response{Error: "unauthorized"})
			return
		}

		if isMutating(r.Method) && !s.consumeCSRF(r.Header.Get("X-CSRF-Token")) {
			writeError(w, http.StatusForbidden, mutation.Response{Error: "missing or reused anti-forgery token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// consumeCSRF validates and spends a one-time anti-forgery token.
func (s *Server) consumeCSRF(token string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.csrfIssued[token] {
		return false
	}
	delete(s.csrfIssued, token)
	return true
}

func (s *Server) takeFailure() *plannedFailure {
	s.lock.Lock()
	defer s.lock.Unlock()

	f := s.failNext
	s.failNext = nil
	return f
}

func (s *Server) col(r *http.Request) *collection {
	return s.collections[mux.Vars(r)["collection"]]
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	col := s.col(r)
	if col == nil {
		writeError(w, http.StatusNotFound, mutation.Response{Error: "unknown collection"})
		return
	}

	s.lock.Lock()
	out := make([]map[string]any, 0, len(col.order))
	for _, key := range col.order {
		out = append(out, col.items[key])
	}
	s.lock.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	col := s.col(r)
	if col == nil {
		writeError(w, http.StatusNotFound, mutation.Response{Error: "unknown collection"})
		return
	}
	if f := s.takeFailure(); f != nil {
		writeError(w, f.status, f.body)
		return
	}

	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, mutation.Response{Error: "malformed body"})
		return
	}

	// The server assigns the key; any client-side temp key is discarded.
	key := uuid.New().String()
	m[col.keyField] = key

	s.lock.Lock()
	col.order = append(col.order, key)
	col.items[key] = m
	s.lock.Unlock()

	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	col := s.col(r)
	if col == nil {
		writeError(w, http.StatusNotFound, mutation.Response{Error: "unknown collection"})
		return
	}
	if f := s.takeFailure(); f != nil {
		writeError(w, f.status, f.body)
		return
	}

	key := mux.Vars(r)["key"]
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, mutation.Response{Error: "malformed body"})
		return
	}
	m[col.keyField] = key

	s.lock.Lock()
	_, exists := col.items[key]
	if exists {
		// The server is authoritative: it stamps its own update time.
		if _, ok := m["updated_at"]; ok {
			m["updated_at"] = time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
		}
		col.items[key] = m
	}
	s.lock.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, mutation.Response{Error: "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	col := s.col(r)
	if col == nil {
		writeError(w, http.StatusNotFound, mutation.Response{Error: "unknown collection"})
		return
	}
	if f := s.takeFailure(); f != nil {
		writeError(w, f.status, f.body)
		return
	}

	key := mux.Vars(r)["key"]

	s.lock.Lock()
	_, exists := col.items[key]
	if exists {
		delete(col.items, key)
		for i, k := range col.order {
			if k == key {
				col.order = append(col.order[:i], col.order[i+1:]...)
				break
			}
		}
	}
	s.lock.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, mutation.Response{Error: "record not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body mutation.Response) {
	writeJSON(w, status, body)
}
