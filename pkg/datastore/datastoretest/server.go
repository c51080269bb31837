// Package datastoretest provides an in-memory fake of the Cloud Datastore v1
// REST API. It speaks the same wire protocol as the real service for lookup,
// runQuery and beginTransaction, including Google's error envelope, so a
// datastore.Client can be pointed at it with datastore.WithBaseURL.
package datastoretest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/goheros/datastore_sdk_go/internal/devseed"
	"github.com/goheros/datastore_sdk_go/pkg/datastore"
)

// PathPrefix is the API version prefix served by the fake. Clients use
// server URL + PathPrefix as their base URL.
const PathPrefix = "/v1"

// DefaultProject is served when no project is configured.
const DefaultProject = "test-project"

type entityKey struct {
	namespace string
	kind      string
	id        int64
	name      string
}

func keyOf(k datastore.Key) entityKey {
	return entityKey{namespace: k.Namespace, kind: k.Kind, id: k.ID, name: k.Name}
}

type record struct {
	key        datastore.Key
	properties datastore.Properties
}

// Server is the fake. The zero value is not usable; call New.
type Server struct {
	mu           sync.RWMutex
	project      string
	apiKeys      map[string]bool
	tokens       map[string]bool
	entities     map[entityKey]*record
	order        []entityKey
	deferred     map[entityKey]bool
	transactions map[string]bool
	logger       *slog.Logger
	mux          *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithProject sets the only project id the fake answers for.
func WithProject(project string) Option {
	return func(s *Server) {
		if project != "" {
			s.project = project
		}
	}
}

// WithAPIKey accepts key as a valid API key.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKeys[key] = true
	}
}

// WithAccessToken accepts token as a valid OAuth2 access token.
func WithAccessToken(token string) Option {
	return func(s *Server) {
		s.tokens[token] = true
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty fake.
func New(opts ...Option) *Server {
	s := &Server{
		project:      DefaultProject,
		apiKeys:      make(map[string]bool),
		tokens:       make(map[string]bool),
		entities:     make(map[entityKey]*record),
		deferred:     make(map[entityKey]bool),
		transactions: make(map[string]bool),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = http.NewServeMux()
	// Method suffixes share a path segment with the project id
	// ("goheros:lookup"), so the whole segment is matched and split.
	s.mux.HandleFunc("POST "+PathPrefix+"/projects/{call}", s.handleCall)
	return s
}

// Project returns the project id the fake answers for.
func (s *Server) Project() string { return s.project }

// Put stores an entity. Later puts to the same key replace its properties
// but keep its position in query results.
func (s *Server) Put(key datastore.Key, props datastore.Properties) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := keyOf(key)
	if _, ok := s.entities[ek]; !ok {
		s.order = append(s.order, ek)
	}
	copied := make(datastore.Properties, len(props))
	for name, raw := range props {
		copied[name] = append(json.RawMessage(nil), raw...)
	}
	s.entities[ek] = &record{key: key, properties: copied}
}

// PutValues stores an entity given plain scalar values.
func (s *Server) PutValues(key datastore.Key, values map[string]any) error {
	props, err := datastore.EncodeProperties(values)
	if err != nil {
		return err
	}
	s.Put(key, props)
	return nil
}

// Defer makes lookups of key report it as deferred.
func (s *Server) Defer(key datastore.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred[keyOf(key)] = true
}

// Seed loads entities decoded by devseed.
func (s *Server) Seed(entities []devseed.Entity) error {
	for _, e := range entities {
		props, err := seedProperties(e.Properties)
		if err != nil {
			return fmt.Errorf("datastoretest: seed %s: %w", e.Kind, err)
		}
		key := datastore.Key{Namespace: e.Namespace, Kind: e.Kind, ID: e.ID, Name: e.Name}
		s.Put(key, props)
		if e.Deferred {
			s.Defer(key)
		}
	}
	return nil
}

func seedProperties(values map[string]any) (datastore.Properties, error) {
	props := make(datastore.Properties, len(values))
	scalars := make(map[string]any, len(values))
	for name, v := range values {
		envelope, ok := v.(map[string]any)
		if !ok {
			scalars[name] = v
			continue
		}
		raw, err := json.Marshal(envelope)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = raw
	}
	encoded, err := datastore.EncodeProperties(scalars)
	if err != nil {
		return nil, err
	}
	for name, raw := range encoded {
		props[name] = raw
	}
	return props, nil
}

// HasTransaction reports whether handle was issued by beginTransaction.
func (s *Server) HasTransaction(handle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactions[handle]
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	call := r.PathValue("call")
	idx := strings.LastIndex(call, ":")
	if idx <= 0 {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("unknown call %q", call))
		return
	}
	project, method := call[:idx], call[idx+1:]
	s.logger.Debug("datastoretest request", "project", project, "method", method)

	if !s.authorize(w, r) {
		return
	}
	if project != s.project {
		WriteError(w, http.StatusForbidden, "PERMISSION_DENIED",
			fmt.Sprintf("The caller does not have permission to access project %s.", project))
		return
	}

	switch method {
	case datastore.MethodLookup:
		s.handleLookup(w, r)
	case datastore.MethodRunQuery:
		s.handleRunQuery(w, r)
	case datastore.MethodBeginTransaction:
		s.handleBeginTransaction(w)
	default:
		WriteError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("method %q is not served", method))
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	q := r.URL.Query()
	switch {
	case q.Has("key"):
		if s.apiKeys[q.Get("key")] {
			return true
		}
		WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "API key not valid. Please pass a valid API key.")
		return false
	case q.Has("access_token"):
		if s.tokens[q.Get("access_token")] {
			return true
		}
		WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED",
			"Request had invalid authentication credentials. Expected OAuth 2 access token, login cookie or other valid authentication credential.")
		return false
	default:
		WriteError(w, http.StatusForbidden, "PERMISSION_DENIED",
			"The request is missing a valid API key.")
		return false
	}
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req datastore.LookupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkTransaction(w, req.ReadOptions) {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var resp datastore.LookupResponse
	for _, wk := range req.Keys {
		key, err := wk.Key()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}
		ek := keyOf(key)
		if s.deferred[ek] {
			resp.Deferred = append(resp.Deferred, wk)
			continue
		}
		if rec, ok := s.entities[ek]; ok {
			resp.Found = append(resp.Found, entityResult(wk, rec))
			continue
		}
		resp.Missing = append(resp.Missing, datastore.EntityResult{
			Entity:  datastore.Entity{Key: &wk},
			Version: "1",
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	var req datastore.RunQueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkTransaction(w, req.ReadOptions) {
		return
	}
	if len(req.Query.Kind) != 1 {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "exactly one kind is supported")
		return
	}

	var filter *datastore.PropertyFilter
	if req.Query.Filter != nil {
		filter = req.Query.Filter.PropertyFilter
	}
	if filter != nil {
		switch filter.Op {
		case datastore.OperatorUnspecified, datastore.HasAncestor:
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("unsupported operator %s", filter.Op))
			return
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := &datastore.QueryResultBatch{EntityResultType: "FULL", MoreResults: "NO_MORE_RESULTS"}
	for _, ek := range s.order {
		if ek.namespace != req.PartitionID.NamespaceID || ek.kind != req.Query.Kind[0].Name {
			continue
		}
		rec := s.entities[ek]
		if filter != nil {
			ok, err := matches(rec.properties, filter)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
				return
			}
			if !ok {
				continue
			}
		}
		if req.Query.Limit > 0 && len(batch.EntityResults) == int(req.Query.Limit) {
			batch.MoreResults = "MORE_RESULTS_AFTER_LIMIT"
			break
		}
		batch.EntityResults = append(batch.EntityResults, entityResult(rec.key.Wire(), rec))
	}
	writeJSON(w, datastore.RunQueryResponse{Batch: batch})
}

func (s *Server) handleBeginTransaction(w http.ResponseWriter) {
	id := uuid.New()
	handle := base64.StdEncoding.EncodeToString(id[:])

	s.mu.Lock()
	s.transactions[handle] = true
	s.mu.Unlock()

	writeJSON(w, datastore.BeginTransactionResponse{Transaction: handle})
}

func (s *Server) checkTransaction(w http.ResponseWriter, opts datastore.WireReadOptions) bool {
	if opts.Transaction == "" {
		return true
	}
	if opts.ReadConsistency != "" {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "readConsistency and transaction are mutually exclusive")
		return false
	}
	if !s.HasTransaction(opts.Transaction) {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid transaction.")
		return false
	}
	return true
}

func entityResult(wk datastore.WireKey, rec *record) datastore.EntityResult {
	return datastore.EntityResult{
		Entity:  datastore.Entity{Key: &wk, Properties: rec.properties},
		Version: "1",
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("Invalid JSON payload received. %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes Google's error envelope with the given HTTP code and
// canonical status name.
func WriteError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}
