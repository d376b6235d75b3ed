package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
name: shop
fallbackUrl: /home
loadConcurrency: 2
timeouts:
  mount: 3s
  unmount: 1500ms
deadLoop:
  sameValueThreshold: 10
retry:
  maxAttempts: 5
preload:
  schedule: "@every 5m"
  apps: [home]
inspect:
  addr: 127.0.0.1:8090
apps:
  - name: home
    activeRule: /home
    scripts: [/home/main.js]
    props:
      theme: dark
  - name: cart
    activeRule: /cart
    target: "#side"
`

const tomlConfig = `
name = "shop"
fallback_url = "/home"
load_concurrency = 2

[timeouts]
mount = "3s"
unmount = "1500ms"

[dead_loop]
same_value_threshold = 10

[retry]
max_attempts = 5

[preload]
schedule = "@every 5m"
apps = ["home"]

[inspect]
addr = "127.0.0.1:8090"

[[apps]]
name = "home"
active_rule = "/home"
scripts = ["/home/main.js"]
[apps.props]
theme = "dark"

[[apps]]
name = "cart"
active_rule = "/cart"
target = "#side"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func wantShop() *Config {
	want := Default()
	want.Name = "shop"
	want.FallbackURL = "/home"
	want.LoadConcurrency = 2
	want.Timeouts.Mount = 3 * time.Second
	want.Timeouts.Unmount = 1500 * time.Millisecond
	want.DeadLoop.SameValueThreshold = 10
	want.Retry.MaxAttempts = 5
	want.Preload.Schedule = "@every 5m"
	want.Preload.Apps = []string{"home"}
	want.Inspect.Addr = "127.0.0.1:8090"
	want.Apps = []App{
		{Name: "home", ActiveRule: "/home", Scripts: []string{"/home/main.js"}, Props: map[string]any{"theme": "dark"}},
		{Name: "cart", ActiveRule: "/cart", Target: "#side"},
	}
	return want
}

func TestFileFeeders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "yaml", file: "microapp.yaml", content: yamlConfig},
		{name: "yml", file: "microapp.yml", content: yamlConfig},
		{name: "toml", file: "microapp.toml", content: tomlConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadFile(writeFile(t, tt.file, tt.content), "")
			require.NoError(t, err)
			if diff := cmp.Diff(wantShop(), cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileFeederErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown_yaml_key", func(t *testing.T) {
		t.Parallel()
		_, err := LoadFile(writeFile(t, "c.yaml", "nmae: typo\n"), "")
		assert.ErrorIs(t, err, ErrYamlDecode)
	})

	t.Run("unknown_toml_key", func(t *testing.T) {
		t.Parallel()
		_, err := LoadFile(writeFile(t, "c.toml", "nmae = \"typo\"\n"), "")
		assert.ErrorIs(t, err, ErrTomlDecode)
		assert.ErrorIs(t, err, ErrTomlUnknownKeys)
	})

	t.Run("unsupported_extension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadFile(writeFile(t, "c.ini", ""), "")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing_file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("empty_yaml_keeps_defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadFile(writeFile(t, "c.yaml", ""), "")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("invalid_values", func(t *testing.T) {
		t.Parallel()
		_, err := LoadFile(writeFile(t, "c.yaml", "loadConcurrency: 0\n"), "")
		assert.ErrorIs(t, err, ErrLoadConcurrency)
	})

	t.Run("not_a_struct_pointer", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		assert.ErrorIs(t, NewYamlFeeder("x.yaml").Feed(cfg), ErrInvalidStructure)
		assert.ErrorIs(t, NewEnvFeeder("X").Feed((*Config)(nil)), ErrInvalidStructure)
	})
}

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestEnvFeeder(t *testing.T) {
	t.Parallel()

	t.Run("nested_names", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		f := EnvFeeder{Prefix: "microapp", Lookup: envLookup(map[string]string{
			"MICROAPP_NAME":                    "env",
			"MICROAPP_LOAD_CONCURRENCY":        "9",
			"MICROAPP_TIMEOUT_MOUNT":           "250ms",
			"MICROAPP_DEAD_LOOP_WINDOW":        "2s",
			"MICROAPP_RETRY_MAX_ATTEMPTS":      "4",
			"MICROAPP_PRELOAD_APPS":            "a, b,,c",
			"MICROAPP_INSPECT_ADDR":            ":9000",
			"MICROAPP_LOG_LEVEL":               "",
			"MICROAPP_DEAD_LOOP_MAX_ENTRIES_X": "ignored",
		})}
		require.NoError(t, f.Feed(cfg))

		assert.Equal(t, "env", cfg.Name)
		assert.Equal(t, 9, cfg.LoadConcurrency)
		assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.Mount)
		assert.Equal(t, 2*time.Second, cfg.DeadLoop.Window)
		assert.Equal(t, 4, cfg.Retry.MaxAttempts)
		assert.Equal(t, []string{"a", "b", "c"}, cfg.Preload.Apps)
		assert.Equal(t, ":9000", cfg.Inspect.Addr)
		assert.Equal(t, "info", cfg.Log.Level, "empty variables are ignored")
	})

	t.Run("bad_duration", func(t *testing.T) {
		t.Parallel()
		f := EnvFeeder{Prefix: "M", Lookup: envLookup(map[string]string{"M_TIMEOUT_LOAD": "soon"})}
		assert.ErrorIs(t, f.Feed(Default()), ErrEnvCannotConvert)
	})

	t.Run("bad_int", func(t *testing.T) {
		t.Parallel()
		f := EnvFeeder{Prefix: "M", Lookup: envLookup(map[string]string{"M_LOAD_CONCURRENCY": "many"})}
		assert.ErrorIs(t, f.Feed(Default()), ErrEnvCannotConvert)
	})
}

func TestLoadFileWithEnvironment(t *testing.T) {
	t.Setenv("MICROAPP_TEST_FALLBACK_URL", "/cart")
	t.Setenv("MICROAPP_TEST_TIMEOUT_MOUNT", "9s")

	cfg, err := LoadFile(writeFile(t, "c.yaml", yamlConfig), "MICROAPP_TEST")
	require.NoError(t, err)
	assert.Equal(t, "/cart", cfg.FallbackURL)
	assert.Equal(t, 9*time.Second, cfg.Timeouts.Mount)
	assert.Equal(t, "shop", cfg.Name, "file values survive")
}
