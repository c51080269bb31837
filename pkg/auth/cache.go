package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/subosito/gotenv"
)

// TokenCacheKey is the key Login stores the access token under.
const TokenCacheKey = "DATASTORE_ACCESS_TOKEN"

// TokenCache receives freshly issued tokens. The SDK only writes to it.
type TokenCache interface {
	Put(key, value string)
	Flush() error
}

// DotenvCache keeps KEY=VALUE pairs in a .env style file.
type DotenvCache struct {
	path string

	mu  sync.Mutex
	env gotenv.Env
}

// NewDotenvCache loads path if it exists. A missing file starts an empty
// cache that is created on the first Flush.
func NewDotenvCache(path string) (*DotenvCache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("auth: token cache path is required")
	}
	env, err := gotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("auth: read token cache %s: %w", path, err)
		}
		env = gotenv.Env{}
	}
	return &DotenvCache{path: path, env: env}, nil
}

// Put records value under key; it is written on the next Flush.
func (c *DotenvCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.env[key] = value
}

// Get returns the value stored under key.
func (c *DotenvCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.env[key]
	return v, ok
}

// Flush writes every pair to the cache file, readable by the owner only.
func (c *DotenvCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := gotenv.Write(c.env, c.path); err != nil {
		return fmt.Errorf("auth: write token cache %s: %w", c.path, err)
	}
	if err := os.Chmod(c.path, 0o600); err != nil {
		return fmt.Errorf("auth: restrict token cache %s: %w", c.path, err)
	}
	return nil
}
