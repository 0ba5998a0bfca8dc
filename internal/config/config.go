// Package config loads node configuration from flags and environment
// variables. Flags take precedence; every knob except -debug has an
// environment-variable fallback.
package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all node configuration.
type Config struct {
	NodeID     string
	Interfaces []string
	Channels   []int
	RFPreset   string // "relaxed", "balanced", "aggressive", "custom"

	MeshDevice   string // serial path, e.g. /dev/ttyUSB0
	MeshBaud     int
	MeshInterval time.Duration

	TargetsPath    string
	AllowlistPath  string
	IdentityDBPath string
	AuditDBPath    string
	ConfigDBPath   string

	Latitude  float64
	Longitude float64
	MockMode  bool

	Addr  string // ambient status/metrics HTTP surface
	Debug bool

	BaselineLearnMinutes    int
	BaselineRSSIThreshold   int
	BaselineAbsenceSeconds  int
	BaselineReappearSeconds int
	BaselineRSSIDeltaAlert  int
}

// Load parses command line flags and environment variables to
// populate Config. Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	ifaceStr := getEnv("SENTRYHOP_INTERFACE", "wlan0")
	channelStr := getEnv("SENTRYHOP_CHANNELS", "1,6,11")
	cfg.NodeID = getEnv("SENTRYHOP_NODE_ID", "AH01")
	cfg.RFPreset = getEnv("SENTRYHOP_RF_PRESET", "balanced")
	cfg.MeshDevice = getEnv("SENTRYHOP_MESH_DEVICE", "/dev/ttyUSB0")
	cfg.MeshBaud = int(getEnvFloat("SENTRYHOP_MESH_BAUD", 115200))
	cfg.MeshInterval = time.Duration(getEnvFloat("SENTRYHOP_MESH_INTERVAL_MS", 3000)) * time.Millisecond
	cfg.TargetsPath = getEnv("SENTRYHOP_TARGETS", "targets.txt")
	cfg.AllowlistPath = getEnv("SENTRYHOP_ALLOWLIST", "allowlist.txt")
	cfg.IdentityDBPath = getEnv("SENTRYHOP_IDENTITY_DB", "/rand_identities.dat")
	cfg.AuditDBPath = getEnv("SENTRYHOP_AUDIT_DB", getDefaultDataPath("audit.db"))
	cfg.ConfigDBPath = getEnv("SENTRYHOP_CONFIG_DB", getDefaultDataPath("config.db"))
	cfg.Addr = getEnv("SENTRYHOP_ADDR", ":8080")
	cfg.Latitude = getEnvFloat("SENTRYHOP_LAT", 37.7749)
	cfg.Longitude = getEnvFloat("SENTRYHOP_LNG", -122.4194)
	cfg.MockMode = getEnvBool("SENTRYHOP_MOCK", false)
	cfg.BaselineLearnMinutes = int(getEnvFloat("SENTRYHOP_BASELINE_LEARN_MIN", 5))
	cfg.BaselineRSSIThreshold = int(getEnvFloat("SENTRYHOP_BASELINE_RSSI_MIN", -60))
	cfg.BaselineAbsenceSeconds = int(getEnvFloat("SENTRYHOP_BASELINE_ABSENCE_SEC", 120))
	cfg.BaselineReappearSeconds = int(getEnvFloat("SENTRYHOP_BASELINE_REAPPEAR_SEC", 300))
	cfg.BaselineRSSIDeltaAlert = int(getEnvFloat("SENTRYHOP_BASELINE_RSSI_DELTA", 20))

	flag.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "mesh node identifier, e.g. AH01")
	flag.StringVar(&ifaceStr, "i", ifaceStr, "Wi-Fi/BLE interface(s) in monitor mode (comma separated)")
	flag.StringVar(&channelStr, "channels", channelStr, "Wi-Fi channel hop list (comma separated, 1-14)")
	flag.StringVar(&cfg.RFPreset, "rf-preset", cfg.RFPreset, "RF profile: relaxed|balanced|aggressive|custom")
	flag.StringVar(&cfg.MeshDevice, "mesh-device", cfg.MeshDevice, "serial device for the mesh transport")
	flag.IntVar(&cfg.MeshBaud, "mesh-baud", cfg.MeshBaud, "mesh serial baud rate")
	flag.StringVar(&cfg.TargetsPath, "targets", cfg.TargetsPath, "path to the targets list")
	flag.StringVar(&cfg.AllowlistPath, "allowlist", cfg.AllowlistPath, "path to the allowlist")
	flag.StringVar(&cfg.IdentityDBPath, "identity-db", cfg.IdentityDBPath, "path to the binary identity database")
	flag.StringVar(&cfg.AuditDBPath, "audit-db", cfg.AuditDBPath, "path to the SQLite audit database")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "ambient status/metrics HTTP address")
	flag.Float64Var(&cfg.Latitude, "lat", cfg.Latitude, "static fallback latitude")
	flag.Float64Var(&cfg.Longitude, "lng", cfg.Longitude, "static fallback longitude")
	flag.BoolVar(&cfg.MockMode, "mock", cfg.MockMode, "run with a mock radio/GPS backend")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable verbose debug logging")
	flag.IntVar(&cfg.BaselineLearnMinutes, "baseline-learn-min", cfg.BaselineLearnMinutes, "baseline learn-phase duration, minutes")
	flag.IntVar(&cfg.BaselineRSSIThreshold, "baseline-rssi-min", cfg.BaselineRSSIThreshold, "minimum RSSI to enter the baseline")
	flag.IntVar(&cfg.BaselineAbsenceSeconds, "baseline-absence-sec", cfg.BaselineAbsenceSeconds, "absence threshold, seconds")
	flag.IntVar(&cfg.BaselineReappearSeconds, "baseline-reappear-sec", cfg.BaselineReappearSeconds, "reappearance window, seconds")
	flag.IntVar(&cfg.BaselineRSSIDeltaAlert, "baseline-rssi-delta", cfg.BaselineRSSIDeltaAlert, "significant RSSI change threshold, dB")

	flag.Parse()

	cfg.Interfaces = parseInterfaces(ifaceStr)
	cfg.Channels = parseChannels(channelStr)

	return cfg
}

func parseInterfaces(s string) []string {
	var ifaces []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ifaces = append(ifaces, trimmed)
		}
	}
	return ifaces
}

func parseChannels(s string) []int {
	var channels []int
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if n, err := strconv.Atoi(trimmed); err == nil {
			channels = append(channels, n)
		}
	}
	return channels
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getDefaultDataPath returns name under ~/.sentryhop, creating the
// directory if needed.
func getDefaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return name
	}
	dir := filepath.Join(home, ".sentryhop")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create .sentryhop directory, using current dir: %v", err)
		return name
	}
	return filepath.Join(dir, name)
}
