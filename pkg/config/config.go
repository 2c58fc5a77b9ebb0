package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all robot environment variables
const EnvPrefix = "CASARE_"

// Config holds the full robot agent configuration
type Config struct {
	RobotID   string `yaml:"robot_id"`
	RobotName string `yaml:"robot_name"`

	// Backend connection. PostgresURL is required unless Supabase
	// credentials are provided instead.
	PostgresURL string `yaml:"postgres_url"`
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`

	Environment string   `yaml:"environment"`
	Tags        []string `yaml:"tags"`

	BatchSize             int           `yaml:"batch_size"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	PresenceInterval      time.Duration `yaml:"presence_interval"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`
	MaxConcurrentJobs     int           `yaml:"max_concurrent_jobs"`
	JobTimeout            time.Duration `yaml:"job_timeout"`
	NodeTimeout           time.Duration `yaml:"node_timeout"`
	VisibilityTimeout     time.Duration `yaml:"visibility_timeout"`
	CancellationInterval  time.Duration `yaml:"cancellation_check_interval"`
	ProgressFlushInterval time.Duration `yaml:"progress_flush_interval"`

	// Reconnect policy for the backend connection
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`

	EnableCheckpointing  bool `yaml:"enable_checkpointing"`
	EnableCircuitBreaker bool `yaml:"enable_circuit_breaker"`
	EnableRealtime       bool `yaml:"enable_realtime"`

	// SchedulesFile points at a YAML list of schedule definitions; empty
	// disables the scheduler.
	SchedulesFile string `yaml:"schedules_file"`

	// DataDir overrides the default ~/.casare_rpa location
	DataDir string `yaml:"data_dir"`
}

// Default returns a config populated with documented defaults
func Default() Config {
	return Config{
		Environment:           "default",
		BatchSize:             1,
		PollInterval:          time.Second,
		HeartbeatInterval:     10 * time.Second,
		PresenceInterval:      30 * time.Second,
		ShutdownGrace:         60 * time.Second,
		MaxConcurrentJobs:     1,
		JobTimeout:            3600 * time.Second,
		NodeTimeout:           120 * time.Second,
		VisibilityTimeout:     30 * time.Second,
		CancellationInterval:  2 * time.Second,
		ProgressFlushInterval: time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     300 * time.Second,
		EnableCheckpointing:   true,
		EnableCircuitBreaker:  true,
		EnableRealtime:        true,
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then environment variables (highest precedence).
func Load(file string) (Config, error) {
	cfg := Default()

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "ROBOT_ID"); v != "" {
		c.RobotID = v
	}
	if v := os.Getenv(EnvPrefix + "ROBOT_NAME"); v != "" {
		c.RobotName = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.PostgresURL = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		c.PostgresURL = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		c.SupabaseKey = v
	}
	if v := os.Getenv(EnvPrefix + "ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv(EnvPrefix + "ROBOT_TAGS"); v != "" {
		c.Tags = splitTags(v)
	}
	if v, ok := envInt(EnvPrefix + "BATCH_SIZE"); ok {
		c.BatchSize = v
	}
	if v, ok := envSeconds(EnvPrefix + "POLL_INTERVAL"); ok {
		c.PollInterval = v
	}
	if v, ok := envSeconds(EnvPrefix + "HEARTBEAT_INTERVAL"); ok {
		c.HeartbeatInterval = v
	}
	if v, ok := envSeconds(EnvPrefix + "SHUTDOWN_GRACE"); ok {
		c.ShutdownGrace = v
	}
	if v, ok := envInt(EnvPrefix + "MAX_CONCURRENT_JOBS"); ok {
		c.MaxConcurrentJobs = v
	}
	if v, ok := envSeconds(EnvPrefix + "JOB_TIMEOUT"); ok {
		c.JobTimeout = v
	}
	if v, ok := envBool(EnvPrefix + "ENABLE_CHECKPOINTING"); ok {
		c.EnableCheckpointing = v
	}
	if v, ok := envBool(EnvPrefix + "ENABLE_CIRCUIT_BREAKER"); ok {
		c.EnableCircuitBreaker = v
	}
	if v, ok := envBool(EnvPrefix + "ENABLE_REALTIME"); ok {
		c.EnableRealtime = v
	}
}

// Validate checks that the configuration can actually run an agent
func (c *Config) Validate() error {
	if c.PostgresURL == "" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("no backend configured: set POSTGRES_URL (or SUPABASE_URL and SUPABASE_KEY)")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}

// BaseDir returns the agent's data directory (~/.casare_rpa by default)
func (c *Config) BaseDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".casare_rpa"
	}
	return filepath.Join(home, ".casare_rpa")
}

// EnsureRobotID resolves the persistent robot-id: config/env override first,
// then the robot_id file, generating and persisting a UUID on first run.
func (c *Config) EnsureRobotID() (string, error) {
	if c.RobotID != "" {
		return c.RobotID, nil
	}

	idFile := filepath.Join(c.BaseDir(), "robot_id")
	if data, err := os.ReadFile(idFile); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			c.RobotID = id
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(c.BaseDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(idFile, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist robot id: %w", err)
	}
	c.RobotID = id
	return id, nil
}

// RobotDisplayName returns the configured name or Robot-<hostname>
func (c *Config) RobotDisplayName() string {
	if c.RobotName != "" {
		return c.RobotName
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return "Robot-" + hostname
}

func splitTags(s string) []string {
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envSeconds(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
