package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port == 0 || !cfg.Realtime.ValidateBounds {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
realtime:
  validateBounds: false
  scopeTripEvents: true
  pingInterval: 5s
  pongWait: 12s
recorder:
  flushInterval: 250ms
kafka:
  brokers: ["k1:9092"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Realtime.ValidateBounds || !cfg.Realtime.ScopeTripEvents {
		t.Fatalf("server/realtime = %+v %+v", cfg.Server, cfg.Realtime)
	}
	if cfg.Realtime.PingInterval != 5*time.Second || cfg.Recorder.FlushInterval != 250*time.Millisecond {
		t.Fatalf("durations = %v %v", cfg.Realtime.PingInterval, cfg.Recorder.FlushInterval)
	}
	if cfg.Realtime.SendBuffer != 256 || cfg.Positions.TTL != 5*time.Minute {
		t.Fatal("defaults lost for unset keys")
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.LocationTopic != "gps-data" {
		t.Fatalf("kafka = %+v", cfg.Kafka)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":          "7000",
		"DATABASE_URL":  "postgres://x",
		"DB_MIGRATE":    "false",
		"AUTH_MODE":     "HMAC",
		"RATE_RPS":      "2.5",
		"RATE_BURST":    "5",
		"KAFKA_BROKERS": "a:1, b:2",
		"ALLOW_ORIGINS": "https://ops.example",
		"LOG_LEVEL":     "debug",
	}
	cfg := Default()
	if err := applyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Database.URL != "postgres://x" || cfg.Database.Migrate {
		t.Fatalf("cfg = %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Auth.Mode != "hmac" || cfg.Server.RateRPS != 2.5 || cfg.Server.RateBurst != 5 {
		t.Fatalf("auth/rate = %+v %+v", cfg.Auth, cfg.Server)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:2" || cfg.Server.AllowOrigins[0] != "https://ops.example" {
		t.Fatalf("lists = %v %v", cfg.Kafka.Brokers, cfg.Server.AllowOrigins)
	}
	// hmac without a secret fails validation
	if err := Validate(cfg); err == nil {
		t.Fatal("hmac mode without secret should be invalid")
	}
}

func TestEnvBadNumber(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		if k == "PORT" {
			return "eighty", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "xml"
	if Validate(cfg) == nil {
		t.Fatal("bad log format accepted")
	}
	cfg = Default()
	cfg.Realtime.PongWait = time.Second
	if Validate(cfg) == nil {
		t.Fatal("pongWait below pingInterval accepted")
	}
}

func TestYAMLKeysAreCamelCase(t *testing.T) {
	var walk func(prefix string, typ reflect.Type)
	walk = func(prefix string, typ reflect.Type) {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			key := strings.Split(f.Tag.Get("yaml"), ",")[0]
			if key == "" || strings.ContainsAny(key, "_-") || strings.ToLower(key[:1]) != key[:1] {
				t.Errorf("%s%s: yaml key %q is not camelCase", prefix, f.Name, key)
			}
			if f.Type.Kind() == reflect.Struct {
				walk(prefix+key+".", f.Type)
			}
		}
	}
	walk("", reflect.TypeOf(Config{}))
}
