// Package config loads algae/whirlpool configuration from the process
// environment, optionally seeded from a .env-style file parsed with
// hashicorp/go-envparse, per the TYPHOON_*/PORT_*/SEASIDE_* keys.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-envparse"
)

// Typhoon holds the tunable bounds for the TYPHOON decay loop (§4.4.2,
// §6.3).
type Typhoon struct {
	MinNextIn         time.Duration
	MaxNextIn         time.Duration
	InitialNextInMult float64
	MinRTT            time.Duration
	MaxRTT            time.Duration
	DefaultRTT        time.Duration
	RTTMult           float64
	MinTimeout        time.Duration
	MaxTimeout        time.Duration
	MaxRetries        int
	MaxTail           int
}

// Port holds PORT's tunables (§4.3, §6.3): the AEAD tail budget plus the
// OS-level TCP keepalive triple.
type Port struct {
	MaxTail           int
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int
}

// Tunnel holds the tunnel interface identity (§6.1, §6.3): its name, its
// IPv4 address/netmask, and the SVA mark/routing-table number.
type Tunnel struct {
	Name    string
	Address string
	Netmask string
	SVA     int
}

// Config is the full set of environment-sourced settings shared by the
// algae client and the whirlpool listener.
type Config struct {
	LogLevel string

	Typhoon Typhoon
	Port    Port
	Tunnel  Tunnel

	RootCAPath string
}

// Load reads process environment variables, first merging in the
// contents of envFile (if non-empty) the way atlas' cmd/atlas does:
// parse it with envparse and apply each KEY=VALUE as if it had been
// exported, without overwriting anything already set in the real
// environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := applyEnvFile(envFile); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	var err error

	cfg.LogLevel = getEnvOr("SEASIDE_LOG_LEVEL", cfg.LogLevel)
	cfg.RootCAPath = getEnvOr("SEASIDE_ROOT_CA", cfg.RootCAPath)

	if cfg.Typhoon.MinNextIn, err = durationEnv("TYPHOON_MIN_NEXT_IN", cfg.Typhoon.MinNextIn); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MaxNextIn, err = durationEnv("TYPHOON_MAX_NEXT_IN", cfg.Typhoon.MaxNextIn); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.InitialNextInMult, err = floatEnv("TYPHOON_INITIAL_NEXT_IN_MULT", cfg.Typhoon.InitialNextInMult); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MinRTT, err = durationEnv("TYPHOON_MIN_RTT", cfg.Typhoon.MinRTT); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MaxRTT, err = durationEnv("TYPHOON_MAX_RTT", cfg.Typhoon.MaxRTT); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.DefaultRTT, err = durationEnv("TYPHOON_DEFAULT_RTT", cfg.Typhoon.DefaultRTT); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.RTTMult, err = floatEnv("TYPHOON_RTT_MULT", cfg.Typhoon.RTTMult); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MinTimeout, err = durationEnv("TYPHOON_MIN_TIMEOUT", cfg.Typhoon.MinTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MaxTimeout, err = durationEnv("TYPHOON_MAX_TIMEOUT", cfg.Typhoon.MaxTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MaxRetries, err = intEnv("TYPHOON_MAX_RETRIES", cfg.Typhoon.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.Typhoon.MaxTail, err = intEnv("TYPHOON_MAX_TAIL", cfg.Typhoon.MaxTail); err != nil {
		return Config{}, err
	}
	if cfg.Port.MaxTail, err = intEnv("PORT_MAX_TAIL", cfg.Port.MaxTail); err != nil {
		return Config{}, err
	}
	if cfg.Port.KeepAliveIdle, err = durationEnv("PORT_KEEPALIVE_IDLE", cfg.Port.KeepAliveIdle); err != nil {
		return Config{}, err
	}
	if cfg.Port.KeepAliveInterval, err = durationEnv("PORT_KEEPALIVE_INTERVAL", cfg.Port.KeepAliveInterval); err != nil {
		return Config{}, err
	}
	if cfg.Port.KeepAliveCount, err = intEnv("PORT_KEEPALIVE_COUNT", cfg.Port.KeepAliveCount); err != nil {
		return Config{}, err
	}

	cfg.Tunnel.Name = getEnvOr("SEASIDE_TUNNEL_NAME", cfg.Tunnel.Name)
	cfg.Tunnel.Address = getEnvOr("SEASIDE_TUNNEL_ADDRESS", cfg.Tunnel.Address)
	cfg.Tunnel.Netmask = getEnvOr("SEASIDE_TUNNEL_NETMASK", cfg.Tunnel.Netmask)
	if cfg.Tunnel.SVA, err = intEnv("SEASIDE_TUNNEL_SVA", cfg.Tunnel.SVA); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the hardcoded protocol defaults from §4.4.2, used both
// as Load's fallback and directly by tests.
func Default() Config {
	return Config{
		LogLevel: "info",
		Typhoon: Typhoon{
			MinNextIn:         64 * time.Millisecond,
			MaxNextIn:         256 * time.Millisecond,
			InitialNextInMult: 0.05,
			MinRTT:            1000 * time.Millisecond,
			MaxRTT:            8000 * time.Millisecond,
			DefaultRTT:        5000 * time.Millisecond,
			RTTMult:           4,
			MinTimeout:        4000 * time.Millisecond,
			MaxTimeout:        32000 * time.Millisecond,
			MaxRetries:        5,
			MaxTail:           1024,
		},
		Port: Port{
			MaxTail:           512,
			KeepAliveIdle:     5 * time.Second,
			KeepAliveInterval: 10 * time.Second,
			KeepAliveCount:    5,
		},
		Tunnel: Tunnel{
			Name:    "seatun0",
			Address: "10.70.0.2",
			Netmask: "255.255.255.0",
			SVA:     70,
		},
	}
}

func applyEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening env file %q: %w", path, err)
	}
	defer f.Close()

	parsed, err := envparse.Parse(f)
	if err != nil {
		return fmt.Errorf("config: parsing env file %q: %w", path, err)
	}
	for k, v := range parsed {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("config: setting %s from env file: %w", k, err)
		}
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer number of milliseconds, got %q: %w", key, v, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a float, got %q: %w", key, v, err)
	}
	return f, nil
}

func intEnv(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", key, v, err)
	}
	return n, nil
}
