package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/orbit/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
				convey.So(cfg.FetchTimeout, convey.ShouldEqual, 5*time.Second)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("ORBIT_ADDR", ":8181")
			t.Setenv("ORBIT_QUEUE_SIZE", "64")
			t.Setenv("ORBIT_POLL_INTERVAL", "2s")
			t.Setenv("ORBIT_RANDOM_SEED", "42")
			t.Setenv("ORBIT_KIOSK_LATITUDE", "35.5")
			t.Setenv("ORBIT_LOG_FORMAT", "JSON")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.PollInterval, convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.RandomSeed, convey.ShouldEqual, 42)
				convey.So(cfg.KioskLatitude, convey.ShouldEqual, 35.5)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			clearConfigEnvVars(t)
			path := writeConfig(t, `
addr: ":9191"
store_url: "http://store.local:9090"
submit_timeout: 3s
geofences:
  - id: plaza
    latitude: 35.68
    longitude: 139.76
    radius_m: 200
`)
			t.Setenv("ORBIT_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9191")
				convey.So(cfg.StoreURL, convey.ShouldEqual, "http://store.local:9090")
				convey.So(cfg.SubmitTimeout, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.Geofences, convey.ShouldHaveLength, 1)
				convey.So(cfg.Geofences[0].RadiusM, convey.ShouldEqual, 200)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024) // default kept
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			clearConfigEnvVars(t)
			path := writeConfig(t, `
addr: ":9191"
queue_size: 10
`)
			t.Setenv("ORBIT_CONFIG", path)
			t.Setenv("ORBIT_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			clearConfigEnvVars(t)
			t.Setenv("ORBIT_CONFIG", writeConfig(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			clearConfigEnvVars(t)
			t.Setenv("ORBIT_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			clearConfigEnvVars(t)
			t.Setenv("ORBIT_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orbit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearConfigEnvVars unsets every ORBIT_ variable for the rest of the test.
func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, config.EnvPrefix) {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}
