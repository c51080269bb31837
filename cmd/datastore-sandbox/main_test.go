package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/subosito/gotenv"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
	"github.com/goheros/datastore_sdk_go/pkg/auth"
	"github.com/goheros/datastore_sdk_go/pkg/datastore"
	"github.com/goheros/datastore_sdk_go/pkg/datastore/datastoretest"
)

func TestParseFailConfig(t *testing.T) {
	tests := []struct {
		raw     string
		want    failConfig
		wantErr bool
	}{
		{raw: "", want: failConfig{}},
		{raw: "rate=0.5", want: failConfig{rate: 0.5, code: 500}},
		{raw: "rate=0.25, code=503", want: failConfig{rate: 0.25, code: 503}},
		{raw: "code=429", want: failConfig{code: 429}},
		{raw: "rate", wantErr: true},
		{raw: "rate=2", wantErr: true},
		{raw: "code=200", wantErr: true},
		{raw: "ratio=0.1", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseFailConfig(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseFailConfig(%q) succeeded", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseFailConfig(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseFailConfig(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestMiddlewareInjectsGoogleErrors(t *testing.T) {
	fake := datastoretest.New(datastoretest.WithAPIKey("sandbox-key"))
	handler := withMiddleware(0, failConfig{rate: 0.5, code: http.StatusServiceUnavailable}, func() float64 { return 0.1 }, fake)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	client, err := datastore.New(datastoretest.DefaultProject, auth.APIKey("sandbox-key"),
		datastore.WithBaseURL(srv.URL+datastoretest.PathPrefix))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.BeginTransaction(context.Background())
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.KindRemote || apiErr.Code != http.StatusServiceUnavailable || apiErr.Status != "UNAVAILABLE" {
		t.Fatalf("err = %v, want injected 503 UNAVAILABLE", err)
	}
}

func TestMiddlewarePassesThrough(t *testing.T) {
	fake := datastoretest.New(datastoretest.WithAPIKey("sandbox-key"))
	handler := withMiddleware(time.Millisecond, failConfig{rate: 0.5}, func() float64 { return 0.9 }, fake)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	client, err := datastore.New(datastoretest.DefaultProject, auth.APIKey("sandbox-key"),
		datastore.WithBaseURL(srv.URL+datastoretest.PathPrefix))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.BeginTransaction(context.Background()); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
}

func TestClientEnv(t *testing.T) {
	env := clientEnv(":9000", "goheros-207118", []string{"k1", "k2"})
	if env["DATASTORE_API_URL"] != "http://localhost:9000/v1" || env["DATASTORE_API_KEY"] != "k1" {
		t.Fatalf("env = %v", env)
	}

	var buf bytes.Buffer
	if err := printEnv(&buf, env); err != nil {
		t.Fatalf("printEnv: %v", err)
	}
	if !strings.Contains(buf.String(), "export DATASTORE_PROJECT_ID=goheros-207118\n") {
		t.Fatalf("printed env = %q", buf.String())
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := gotenv.Write(env, path); err != nil {
		t.Fatalf("gotenv.Write: %v", err)
	}
	read, err := gotenv.Read(path)
	if err != nil || read["DATASTORE_API_URL"] != env["DATASTORE_API_URL"] {
		t.Fatalf("round trip = %v, %v", read, err)
	}
}
