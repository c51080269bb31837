package datastore_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
	"github.com/goheros/datastore_sdk_go/pkg/auth"
	"github.com/goheros/datastore_sdk_go/pkg/datastore"
	"github.com/goheros/datastore_sdk_go/pkg/datastore/datastoretest"
)

const (
	testProject = "goheros-207118"
	testAPIKey  = "valid-key"
	heroID      = int64(5629499534213120)
)

type hero struct {
	HeroID int64  `json:"HeroID"`
	Action string `json:"Action"`
	Time   string `json:"Time"`
}

func newFake(t *testing.T) (*datastoretest.Server, *httptest.Server) {
	t.Helper()
	fake := datastoretest.New(
		datastoretest.WithProject(testProject),
		datastoretest.WithAPIKey(testAPIKey),
		datastoretest.WithAccessToken("ya29.valid"),
	)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func newClient(t *testing.T, srv *httptest.Server, strategy auth.Strategy) *datastore.Client {
	t.Helper()
	client, err := datastore.New(testProject, strategy, datastore.WithBaseURL(srv.URL+datastoretest.PathPrefix))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func seedHero(t *testing.T, fake *datastoretest.Server, id int64, heroNumber int, action string) {
	t.Helper()
	fake.Put(datastore.IDKey("", "heroes", id), datastore.Properties{
		"HeroID": json.RawMessage(`{"integerValue":"` + strconv.Itoa(heroNumber) + `"}`),
		"Action": json.RawMessage(`{"stringValue":"` + action + `"}`),
		"Time":   json.RawMessage(`{"timestampValue":"2018-07-27T20:13:20Z"}`),
	})
}

func TestLookupFound(t *testing.T) {
	fake, srv := newFake(t)
	seedHero(t, fake, heroID, 0, "List")
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	got, err := datastore.Lookup[hero](context.Background(), client, datastore.IDKey("", "heroes", heroID))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := hero{HeroID: 0, Action: "List", Time: "2018-07-27T20:13:20Z"}
	if *got != want {
		t.Fatalf("Lookup = %+v, want %+v", *got, want)
	}
}

func TestLookupIntoMapKeepsIntegers(t *testing.T) {
	fake, srv := newFake(t)
	key := datastore.IDKey("", "heroes", heroID)
	fake.Put(key, datastore.Properties{
		"Big": json.RawMessage(`{"integerValue":"9007199254740993"}`),
	})
	client := newClient(t, srv, auth.APIKey(testAPIKey))
	ctx := context.Background()

	plain, err := client.LookupProperties(ctx, key)
	if err != nil {
		t.Fatalf("LookupProperties: %v", err)
	}
	record, err := datastore.Lookup[map[string]any](ctx, client, key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if (*record)["Big"] != int64(9007199254740993) || (*record)["Big"] != plain["Big"] {
		t.Fatalf("Big = %#v via Lookup, %#v via LookupProperties", (*record)["Big"], plain["Big"])
	}

	anyRecord, err := datastore.Lookup[any](ctx, client, key)
	if err != nil {
		t.Fatalf("Lookup[any]: %v", err)
	}
	if m, ok := (*anyRecord).(map[string]any); !ok || m["Big"] != int64(9007199254740993) {
		t.Fatalf("Lookup[any] = %#v", *anyRecord)
	}
}

func TestLookupWithBearerToken(t *testing.T) {
	fake, srv := newFake(t)
	seedHero(t, fake, heroID, 0, "List")
	client := newClient(t, srv, auth.BearerToken("ya29.valid"))

	props, err := client.LookupProperties(context.Background(), datastore.IDKey("", "heroes", heroID),
		datastore.WithReadConsistency(datastore.Strong))
	if err != nil {
		t.Fatalf("LookupProperties: %v", err)
	}
	if props["HeroID"] != int64(0) || props["Action"] != "List" {
		t.Fatalf("unexpected properties: %#v", props)
	}
}

func TestLookupMissing(t *testing.T) {
	_, srv := newFake(t)
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	_, err := datastore.Lookup[hero](context.Background(), client, datastore.IDKey("", "heroes", 42))
	if !apierror.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if apierror.Code(err) != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", apierror.Code(err))
	}
	if !strings.Contains(err.Error(), "heroes/42") {
		t.Fatalf("error %q does not name kind and id", err)
	}
}

func TestLookupDeferred(t *testing.T) {
	fake, srv := newFake(t)
	key := datastore.IDKey("", "heroes", heroID)
	seedHero(t, fake, heroID, 0, "List")
	fake.Defer(key)
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	_, err := datastore.Lookup[hero](context.Background(), client, key)
	if !apierror.IsKind(err, apierror.KindDeferred) {
		t.Fatalf("err = %v, want deferred", err)
	}
}

func TestLookupInvalidAPIKey(t *testing.T) {
	_, srv := newFake(t)
	client := newClient(t, srv, auth.APIKey("wrong"))

	_, err := datastore.Lookup[hero](context.Background(), client, datastore.IDKey("", "heroes", heroID))
	apiErr, ok := apierror.As(err)
	if !ok {
		t.Fatalf("expected *apierror.Error, got %v", err)
	}
	if apiErr.Kind != apierror.KindRemote || apiErr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Status != "UNAUTHENTICATED" || !strings.Contains(apiErr.Message, "API key not valid") {
		t.Fatalf("remote fields not preserved: %+v", apiErr)
	}
	if !apierror.IsUnauthenticated(err) {
		t.Fatalf("IsUnauthenticated = false")
	}
}

func TestLookupWrongProjectIsRemote(t *testing.T) {
	_, srv := newFake(t)
	client, err := datastore.New("someone-else", auth.APIKey(testAPIKey), datastore.WithBaseURL(srv.URL+datastoretest.PathPrefix))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.LookupProperties(context.Background(), datastore.IDKey("", "heroes", 1))
	if apierror.Code(err) != http.StatusForbidden || !apierror.IsKind(err, apierror.KindRemote) {
		t.Fatalf("err = %v, want remote 403", err)
	}
}

func TestLookupInvalidKeyFailsBeforeRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	_, err := client.LookupProperties(context.Background(), datastore.Key{Kind: "heroes"})
	if apierror.Code(err) != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
	if calls != 0 {
		t.Fatalf("server saw %d calls", calls)
	}
}

func TestRunQueryBatchPreservesOrder(t *testing.T) {
	fake, srv := newFake(t)
	seedHero(t, fake, 20, 2, "List")
	seedHero(t, fake, 10, 1, "List")
	seedHero(t, fake, 30, 3, "Create")
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	if err := fake.PutValues(datastore.IDKey("", "heroes", 4), map[string]any{"HeroID": 4, "Action": "List"}); err != nil {
		t.Fatalf("PutValues: %v", err)
	}

	heroes, err := datastore.RunQuery[hero](context.Background(), client, datastore.Query{
		Kind:   "heroes",
		Filter: &datastore.Filter{Property: "Action", Op: datastore.Equal, Value: datastore.String("List")},
		Limit:  2,
	})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(heroes) != 2 {
		t.Fatalf("got %d heroes, want 2", len(heroes))
	}
	if heroes[0].HeroID != 2 || heroes[1].HeroID != 1 {
		t.Fatalf("order = [%d %d], want server order [2 1]", heroes[0].HeroID, heroes[1].HeroID)
	}
	for _, h := range heroes {
		if h.Action != "List" || h.Time != "2018-07-27T20:13:20Z" {
			t.Fatalf("unexpected hero %+v", h)
		}
	}
}

func TestRunQueryNumericFilter(t *testing.T) {
	fake, srv := newFake(t)
	for id, score := range map[int64]any{1: 10, 2: 20.5, 3: 30} {
		if err := fake.PutValues(datastore.IDKey("", "scores", id), map[string]any{"Score": score}); err != nil {
			t.Fatalf("PutValues: %v", err)
		}
	}
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	got, err := client.QueryProperties(context.Background(), datastore.Query{
		Kind:   "scores",
		Filter: &datastore.Filter{Property: "Score", Op: datastore.GreaterThan, Value: datastore.Integer(15)},
	})
	if err != nil {
		t.Fatalf("QueryProperties: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(got), got)
	}
}

func TestRunQueryEmptyBatch(t *testing.T) {
	_, srv := newFake(t)
	client := newClient(t, srv, auth.APIKey(testAPIKey))

	heroes, err := datastore.RunQuery[hero](context.Background(), client, datastore.Query{Kind: "heroes"})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if heroes == nil || len(heroes) != 0 {
		t.Fatalf("RunQuery = %#v, want empty slice", heroes)
	}
}

func TestBeginTransactionAndTransactionalRead(t *testing.T) {
	fake, srv := newFake(t)
	seedHero(t, fake, heroID, 0, "List")
	client := newClient(t, srv, auth.APIKey(testAPIKey))
	ctx := context.Background()

	handle, err := client.BeginTransaction(ctx)
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if handle == "" || !fake.HasTransaction(handle) {
		t.Fatalf("unexpected handle %q", handle)
	}

	if _, err := datastore.Lookup[hero](ctx, client, datastore.IDKey("", "heroes", heroID), datastore.InTransaction(handle)); err != nil {
		t.Fatalf("transactional Lookup: %v", err)
	}

	_, err = datastore.Lookup[hero](ctx, client, datastore.IDKey("", "heroes", heroID), datastore.InTransaction("bogus"))
	if apierror.Code(err) != http.StatusBadRequest || !apierror.IsKind(err, apierror.KindRemote) {
		t.Fatalf("err = %v, want remote 400", err)
	}
}

func TestResponseInterpretation(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   apierror.Kind
		code   int
		detail string
	}{
		{
			name:   "unexpected shape",
			status: http.StatusOK,
			body:   `{"something":"else"}`,
			kind:   apierror.KindStructural,
			code:   500,
			detail: "unexpected response shape",
		},
		{
			name:   "syntax error carries position",
			status: http.StatusOK,
			body:   "{\n\"found\": [\n}",
			kind:   apierror.KindStructural,
			code:   500,
			detail: "(line 3, column 1)",
		},
		{
			name:   "codec failure",
			status: http.StatusOK,
			body:   `{"found":[{"entity":{"properties":{"HeroID":{"integerValue":"zero"}}}}]}`,
			kind:   apierror.KindCodec,
			code:   500,
			detail: "HeroID",
		},
		{
			name:   "type mismatch into record",
			status: http.StatusOK,
			body:   `{"found":[{"entity":{"properties":{"Action":{"integerValue":"7"}}}}]}`,
			kind:   apierror.KindStructural,
			code:   500,
			detail: "decode record into datastore_test.hero",
		},
		{
			name:   "remote error verbatim",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"Missing or insufficient permissions.","status":"PERMISSION_DENIED"}}`,
			kind:   apierror.KindRemote,
			code:   403,
			detail: "Missing or insufficient permissions.",
		},
		{
			name:   "unfollowed redirect",
			status: http.StatusMultipleChoices,
			body:   `{"error":{"code":300,"message":"Multiple choices."}}`,
			kind:   apierror.KindRemote,
			code:   300,
			detail: "Multiple choices.",
		},
		{
			name:   "not modified",
			status: http.StatusNotModified,
			body:   ``,
			kind:   apierror.KindStructural,
			code:   500,
			detail: "HTTP 304",
		},
		{
			name:   "unparsable error body",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			kind:   apierror.KindStructural,
			code:   500,
			detail: "bad gateway",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			client := newClient(t, srv, auth.APIKey(testAPIKey))

			_, err := datastore.Lookup[hero](context.Background(), client, datastore.IDKey("", "heroes", 1))
			apiErr, ok := apierror.As(err)
			if !ok {
				t.Fatalf("expected *apierror.Error, got %v", err)
			}
			if apiErr.Kind != tc.kind || apiErr.Code != tc.code {
				t.Fatalf("got %v/%d, want %v/%d (%v)", apiErr.Kind, apiErr.Code, tc.kind, tc.code, apiErr)
			}
			if !strings.Contains(apiErr.Message, tc.detail) {
				t.Fatalf("message %q does not contain %q", apiErr.Message, tc.detail)
			}
		})
	}
}

func TestRequestShape(t *testing.T) {
	var gotPath, gotQuery, gotContentType, gotUserAgent string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		gotContentType, gotUserAgent = r.Header.Get("Content-Type"), r.Header.Get("User-Agent")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"batch":{"entityResultType":"FULL","moreResults":"NO_MORE_RESULTS"}}`)
	}))
	defer srv.Close()

	client, err := datastore.New(testProject, auth.BearerToken("tok/en"),
		datastore.WithBaseURL(srv.URL+"/v1"), datastore.WithNamespace("staging"), datastore.WithUserAgent("heroes/1.0"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.QueryProperties(context.Background(), datastore.Query{Kind: "heroes"}); err != nil {
		t.Fatalf("QueryProperties: %v", err)
	}

	if gotPath != "/v1/projects/"+testProject+":runQuery" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotQuery != "access_token=tok%2Fen" {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotUserAgent != "heroes/1.0" {
		t.Fatalf("user agent = %q", gotUserAgent)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	partition, _ := gotBody["partitionId"].(map[string]any)
	if partition["namespaceId"] != "staging" {
		t.Fatalf("partitionId = %v", gotBody["partitionId"])
	}
}

func TestTransportFailureRedactsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	client, err := datastore.New(testProject, auth.APIKey("super-secret"), datastore.WithBaseURL(base+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.BeginTransaction(context.Background())
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.KindTransport {
		t.Fatalf("err = %v, want transport error", err)
	}
	if strings.Contains(apiErr.Error(), "super-secret") {
		t.Fatalf("error leaks the API key: %v", apiErr)
	}
	if !strings.Contains(apiErr.URL, ":beginTransaction") {
		t.Fatalf("URL = %q", apiErr.URL)
	}
}

func TestCancelledContextIsTransport(t *testing.T) {
	_, srv := newFake(t)
	client := newClient(t, srv, auth.APIKey(testAPIKey))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.BeginTransaction(ctx)
	if !apierror.IsKind(err, apierror.KindTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("errors.Is(err, context.Canceled) = false")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := datastore.New("", auth.APIKey("k")); err == nil {
		t.Fatalf("expected error for empty project")
	}
	if _, err := datastore.New("p", nil); err == nil {
		t.Fatalf("expected error for nil strategy")
	}
	if _, err := datastore.New("p", auth.APIKey("k"), datastore.WithBaseURL("ftp://x")); err == nil {
		t.Fatalf("expected error for bad base URL")
	}
}

func TestWithProjectReplacesProject(t *testing.T) {
	_, srv := newFake(t)
	client, err := datastore.New("someone-else", auth.APIKey(testAPIKey),
		datastore.WithBaseURL(srv.URL+datastoretest.PathPrefix),
		datastore.WithProject(testProject),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.Project() != testProject {
		t.Fatalf("Project() = %q, want %q", client.Project(), testProject)
	}
	if _, err := client.BeginTransaction(context.Background()); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if _, err := datastore.New("", auth.APIKey("k"), datastore.WithProject(testProject)); err != nil {
		t.Fatalf("New with only WithProject: %v", err)
	}
	if _, err := datastore.New("", auth.APIKey("k"), datastore.WithProject("  ")); err == nil {
		t.Fatalf("expected error for blank WithProject")
	}
}
