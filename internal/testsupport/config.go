package testsupport

import (
	"path/filepath"
	"testing"

	"outbox/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Sync.Endpoint = "http://127.0.0.1:1/api/sync/batch"
	cfgVal.Connectivity.Netlink = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithEndpoint points the sync client (and the default probe) at url.
func WithEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.Endpoint = url
	}
}

// WithSpool enables the drop directory under the test base directory.
func WithSpool() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Spool.Dir = filepath.Join(b.baseDir, "spool")
		b.cfg.Spool.DebounceMillis = 20
	}
}

// WithAPIToken sets the local API bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
