// datastore-lookup reads entities from Cloud Datastore over its REST API.
//
// Usage:
//
//	datastore-lookup lookup   [flags] --kind heroes --id 5629499534213120
//	datastore-lookup query    [flags] --kind heroes --filter 'Action=List' --limit 10
//	datastore-lookup begin-tx [flags]
//
// Credentials come from --api-key, $DATASTORE_API_KEY or a service account
// (--credentials-file); without any of them the DATASTORE_* environment is
// used as documented on datastore.NewFromEnv. Results are printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
	"github.com/goheros/datastore_sdk_go/pkg/auth"
	"github.com/goheros/datastore_sdk_go/pkg/datastore"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitNotFound = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "lookup":
		err = lookupCmd(ctx, rest, stdout, stderr)
	case "query":
		err = queryCmd(ctx, rest, stdout, stderr)
	case "begin-tx":
		err = beginTxCmd(ctx, rest, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pflag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	case apierror.IsNotFound(err):
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitNotFound
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
}

var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `datastore-lookup reads entities from Cloud Datastore.

Commands:
  lookup     fetch one entity by kind and id or name
  query      run a kind query with an optional property filter
  begin-tx   start a transaction and print its handle

Run "datastore-lookup <command> --help" for flags.
`)
}

func lookupCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var conn connectionFlags
	conn.register(fs)
	kind := fs.String("kind", "", "entity kind")
	id := fs.Int64("id", 0, "numeric key id")
	name := fs.String("name", "", "key name")
	tx := fs.String("transaction", "", "read inside this transaction handle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind == "" {
		return usageError("--kind is required")
	}
	if (*id == 0) == (*name == "") {
		return usageError("exactly one of --id or --name is required")
	}

	client, cfg, err := connect(ctx, fs, &conn, stderr)
	if err != nil {
		return err
	}
	key := datastore.Key{Kind: *kind, ID: *id, Name: *name}
	props, err := client.LookupProperties(ctx, key, readOptions(cfg, *tx)...)
	if err != nil {
		return err
	}
	return printJSON(stdout, props)
}

func queryCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var conn connectionFlags
	conn.register(fs)
	kind := fs.String("kind", "", "entity kind")
	filterExpr := fs.String("filter", "", `property filter such as "Action=List" or "Score>=15"`)
	limit := fs.Int32("limit", 0, "maximum number of results (0 for no limit)")
	tx := fs.String("transaction", "", "read inside this transaction handle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind == "" {
		return usageError("--kind is required")
	}

	q := datastore.Query{Kind: *kind, Limit: *limit}
	if strings.TrimSpace(*filterExpr) != "" {
		f, err := parseFilter(*filterExpr)
		if err != nil {
			return usageError("%v", err)
		}
		q.Filter = f
	}

	client, cfg, err := connect(ctx, fs, &conn, stderr)
	if err != nil {
		return err
	}
	records, err := client.QueryProperties(ctx, q, readOptions(cfg, *tx)...)
	if err != nil {
		return err
	}
	return printJSON(stdout, records)
}

func beginTxCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("begin-tx", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var conn connectionFlags
	conn.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := connect(ctx, fs, &conn, stderr)
	if err != nil {
		return err
	}
	handle, err := client.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, handle)
	return err
}

// connect resolves configuration and credentials into a client.
func connect(ctx context.Context, fs *pflag.FlagSet, conn *connectionFlags, stderr io.Writer) (*datastore.Client, *Config, error) {
	logger, err := newLogger(stderr, conn.logLevel, conn.logFormat)
	if err != nil {
		return nil, nil, usageError("%v", err)
	}
	cfg, err := conn.resolve(fs)
	if err != nil {
		return nil, nil, err
	}

	opts := []datastore.Option{
		datastore.WithBaseURL(cfg.APIURL),
		datastore.WithLogger(logger),
		datastore.WithUserAgent("datastore-lookup"),
	}
	if cfg.Namespace != "" {
		opts = append(opts, datastore.WithNamespace(cfg.Namespace))
	}

	var strategy auth.Strategy
	switch {
	case conn.apiKey != "":
		strategy = auth.APIKey(conn.apiKey)
	case cfg.CredentialsFile != "":
		var project string
		strategy, project, err = login(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Project == "" {
			cfg.Project = project
		}
	default:
		// --project and the config file outrank DATASTORE_PROJECT_ID.
		client, mode, err := datastore.NewFromEnv(ctx, append(opts, datastore.WithProject(cfg.Project))...)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("credentials from environment", "mode", mode, "project", client.Project())
		return client, cfg, nil
	}

	if cfg.Project == "" {
		return nil, nil, usageError("--project is required")
	}
	client, err := datastore.New(cfg.Project, strategy, opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// login exchanges the configured key file for a bearer token and returns it
// with the key file's project id.
func login(ctx context.Context, cfg *Config, logger *slog.Logger) (auth.Strategy, string, error) {
	sa, err := auth.LoadServiceAccountFile(cfg.CredentialsFile)
	if err != nil {
		return nil, "", err
	}
	lc := sa.LoginConfig()
	lc.Scopes = cfg.Scopes
	lc.Logger = logger
	if cfg.TokenURL != "" {
		lc.TokenURL = cfg.TokenURL
	}
	if cfg.TokenCache != "" {
		cache, err := auth.NewDotenvCache(cfg.TokenCache)
		if err != nil {
			return nil, "", err
		}
		lc.Cache = cache
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	token, err := auth.Login(ctx, lc)
	if err != nil {
		return nil, "", err
	}
	return token, sa.ProjectID, nil
}

func readOptions(cfg *Config, tx string) []datastore.ReadOption {
	opts := []datastore.ReadOption{}
	if cfg.ReadConsistency != "" {
		opts = append(opts, datastore.WithReadConsistency(datastore.ParseReadConsistency(cfg.ReadConsistency)))
	}
	if tx != "" {
		opts = append(opts, datastore.InTransaction(tx))
	}
	return opts
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
