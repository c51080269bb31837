package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file. Every field may be overridden by
// the flag of the same name (underscores become dashes).
type Config struct {
	Project         string   `yaml:"project"`
	Namespace       string   `yaml:"namespace"`
	APIURL          string   `yaml:"api_url"`
	TokenURL        string   `yaml:"token_url"`
	CredentialsFile string   `yaml:"credentials_file"`
	Scopes          []string `yaml:"scopes"`
	ReadConsistency string   `yaml:"read_consistency"`
	TokenCache      string   `yaml:"token_cache"`
}

// LoadConfig reads path. An empty path yields the zero Config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// connectionFlags are shared by every subcommand.
type connectionFlags struct {
	configPath string
	apiKey     string
	logLevel   string
	logFormat  string
	cfg        Config
}

func (f *connectionFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", os.Getenv("DATASTORE_CONFIG"), "path to a YAML config file")
	fs.StringVar(&f.apiKey, "api-key", "", "API key (default $DATASTORE_API_KEY)")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")

	fs.StringVar(&f.cfg.Project, "project", "", "project id")
	fs.StringVar(&f.cfg.Namespace, "namespace", "", "namespace for keys and queries")
	fs.StringVar(&f.cfg.APIURL, "api-url", "", "API base URL, e.g. a local sandbox")
	fs.StringVar(&f.cfg.TokenURL, "token-url", "", "OAuth2 token endpoint")
	fs.StringVar(&f.cfg.CredentialsFile, "credentials-file", "", "service account JSON key file")
	fs.StringSliceVar(&f.cfg.Scopes, "scopes", nil, "OAuth2 scopes for service account login")
	fs.StringVar(&f.cfg.ReadConsistency, "read-consistency", "", "EVENTUAL, STRONG or READ_CONSISTENCY_UNSPECIFIED")
	fs.StringVar(&f.cfg.TokenCache, "token-cache", "", "write the access token to this .env file")
}

// resolve loads the config file and overlays flags that were set explicitly.
func (f *connectionFlags) resolve(fs *pflag.FlagSet) (*Config, error) {
	cfg, err := LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	overlay := map[string]func(){
		"project":          func() { cfg.Project = f.cfg.Project },
		"namespace":        func() { cfg.Namespace = f.cfg.Namespace },
		"api-url":          func() { cfg.APIURL = f.cfg.APIURL },
		"token-url":        func() { cfg.TokenURL = f.cfg.TokenURL },
		"credentials-file": func() { cfg.CredentialsFile = f.cfg.CredentialsFile },
		"scopes":           func() { cfg.Scopes = f.cfg.Scopes },
		"read-consistency": func() { cfg.ReadConsistency = f.cfg.ReadConsistency },
		"token-cache":      func() { cfg.TokenCache = f.cfg.TokenCache },
	}
	for name, apply := range overlay {
		if fs.Changed(name) {
			apply()
		}
	}
	if f.apiKey == "" {
		f.apiKey = os.Getenv("DATASTORE_API_KEY")
	}
	return cfg, nil
}
