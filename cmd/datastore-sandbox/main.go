// datastore-sandbox serves the in-memory Datastore fake over HTTP so clients
// can run against it without a Google project.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/subosito/gotenv"

	"github.com/goheros/datastore_sdk_go/internal/devseed"
	"github.com/goheros/datastore_sdk_go/pkg/datastore/datastoretest"
)

type failConfig struct {
	rate float64
	code int
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "datastore-sandbox: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("datastore-sandbox", pflag.ContinueOnError)
	addr := fs.String("addr", ":8787", "listen address")
	project := fs.String("project", datastoretest.DefaultProject, "project id served by the sandbox")
	apiKeys := fs.StringArray("api-key", []string{"sandbox-key"}, "accepted API key (repeatable)")
	tokens := fs.StringArray("access-token", nil, "accepted OAuth2 access token (repeatable)")
	seed := fs.String("seed", "", "path to a YAML entity seed file")
	envFile := fs.String("env-file", "", "also write the client environment to this .env file")
	latency := fs.Duration("latency", 0, "artificial latency to inject per request")
	fail := fs.String("fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	verbose := fs.BoolP("verbose", "v", false, "log every request")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []datastoretest.Option{datastoretest.WithProject(*project), datastoretest.WithLogger(logger)}
	for _, key := range *apiKeys {
		opts = append(opts, datastoretest.WithAPIKey(key))
	}
	for _, token := range *tokens {
		opts = append(opts, datastoretest.WithAccessToken(token))
	}
	fake := datastoretest.New(opts...)

	if *seed != "" {
		entities, err := devseed.LoadEntities(*seed)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		if err := fake.Seed(entities); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.Info("seeded entities", "count", len(entities), "path", *seed)
	}

	failCfg, err := parseFailConfig(*fail)
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}

	env := clientEnv(*addr, *project, *apiKeys)
	if err := printEnv(stdout, env); err != nil {
		return err
	}
	if *envFile != "" {
		if err := gotenv.Write(env, *envFile); err != nil {
			return fmt.Errorf("write env file: %w", err)
		}
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           withMiddleware(*latency, failCfg, rand.Float64, fake),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("datastore-sandbox listening", "addr", *addr, "project", *project)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// clientEnv is the environment datastore.NewFromEnv needs to reach the
// sandbox.
func clientEnv(addr, project string, apiKeys []string) gotenv.Env {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	env := gotenv.Env{
		"DATASTORE_API_URL":    "http://" + host + datastoretest.PathPrefix,
		"DATASTORE_PROJECT_ID": project,
	}
	if len(apiKeys) > 0 {
		env["DATASTORE_API_KEY"] = apiKeys[0]
	}
	return env
}

func printEnv(w io.Writer, env gotenv.Env) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, name := range []string{"DATASTORE_API_URL", "DATASTORE_PROJECT_ID", "DATASTORE_API_KEY"} {
		if v, ok := env[name]; ok {
			fmt.Fprintf(&b, "export %s=%s\n", name, v)
		}
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// withMiddleware delays every request and fails a random share of them with
// Google's error envelope. roll returns a number in [0, 1).
func withMiddleware(delay time.Duration, failCfg failConfig, roll func() float64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failCfg.rate > 0 && roll() < failCfg.rate {
			code := failCfg.code
			if code == 0 {
				code = http.StatusInternalServerError
			}
			datastoretest.WriteError(w, code, statusName(code), "failure injected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusName maps an HTTP code to the canonical status Google reports with it.
func statusName(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ABORTED"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		return "INTERNAL"
	}
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "rate":
			rate, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return failConfig{}, err
			}
			if rate < 0 || rate > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v outside [0, 1]", rate)
			}
			cfg.rate = rate
		case "code":
			code, err := strconv.Atoi(val)
			if err != nil {
				return failConfig{}, err
			}
			if code < 400 || code > 599 {
				return failConfig{}, fmt.Errorf("fail code %d is not an error status", code)
			}
			cfg.code = code
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", key)
		}
	}
	return cfg, nil
}
