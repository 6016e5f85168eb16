package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/shell/logsink"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Log          LogConfig          `mapstructure:"log"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	LogSink      LogSinkConfig      `mapstructure:"logsink"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout of zero disables the limit, which event streams need.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OrchestratorConfig holds build and launch settings.
type OrchestratorConfig struct {
	// PublicHost is the host name put into deployment URLs.
	PublicHost string `mapstructure:"public_host"`

	// BasePort is the first host port handed out.
	BasePort int `mapstructure:"base_port"`

	// BaseImage, ContainerPort and StartCommand shape the Dockerfile written
	// into sources that ship without one.
	BaseImage     string   `mapstructure:"base_image"`
	ContainerPort int      `mapstructure:"container_port"`
	StartCommand  []string `mapstructure:"start_command"`

	MemoryMB      int64  `mapstructure:"memory_mb"`
	CPUShares     int64  `mapstructure:"cpu_shares"`
	RestartPolicy string `mapstructure:"restart_policy"`

	// ReadinessGrace is the wait between starting a container and checking
	// that it is still running; ReadinessAttempts is how many checks are made.
	ReadinessGrace    time.Duration `mapstructure:"readiness_grace"`
	ReadinessAttempts int           `mapstructure:"readiness_attempts"`

	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	NoCache     bool          `mapstructure:"no_cache"`

	// BuildArgs are KEY=VALUE build-time variables passed to every image build.
	BuildArgs []string `mapstructure:"build_args"`
}

// LogSinkConfig holds build log delivery settings.
type LogSinkConfig struct {
	// BufferSize bounds the queue between deploys and log consumers.
	// Events beyond it are dropped and counted.
	BufferSize int `mapstructure:"buffer_size"`

	// HistorySize is the number of events kept per deployment for late
	// event stream subscribers.
	HistorySize int `mapstructure:"history_size"`

	// MaxDeployments caps how many deployments have history kept at once.
	MaxDeployments int `mapstructure:"max_deployments"`
}

// ReconcilerConfig holds the background reconciler settings.
type ReconcilerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// OrchestratorSettings converts the config section into orchestrator.Config.
func (c OrchestratorConfig) OrchestratorSettings() orchestrator.Config {
	return orchestrator.Config{
		PublicHost: c.PublicHost,
		BasePort:   c.BasePort,
		Descriptor: coredeployment.DescriptorParams{
			BaseImage:     c.BaseImage,
			ContainerPort: c.ContainerPort,
			StartCommand:  c.StartCommand,
		},
		Resources: coredeployment.ResourcePlan{
			MemoryLimit: c.MemoryMB * 1024 * 1024,
			CPUShares:   c.CPUShares,
		},
		RestartPolicy:     c.RestartPolicy,
		ReadinessGrace:    c.ReadinessGrace,
		ReadinessAttempts: c.ReadinessAttempts,
		StopTimeout:       c.StopTimeout,
		NoCache:           c.NoCache,
		BuildArgs:         parseBuildArgs(c.BuildArgs),
	}
}

// parseBuildArgs splits KEY=VALUE entries. Entries without a key are skipped;
// Validate reports them.
func parseBuildArgs(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	args := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		args[strings.TrimSpace(k)] = v
	}
	return args
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	descriptor := coredeployment.DefaultDescriptorParams()
	v.SetDefault("orchestrator.public_host", "localhost")
	v.SetDefault("orchestrator.base_port", orchestrator.DefaultBasePort)
	v.SetDefault("orchestrator.base_image", descriptor.BaseImage)
	v.SetDefault("orchestrator.container_port", descriptor.ContainerPort)
	v.SetDefault("orchestrator.start_command", descriptor.StartCommand)
	v.SetDefault("orchestrator.memory_mb", coredeployment.DefaultMemoryLimit/(1024*1024))
	v.SetDefault("orchestrator.cpu_shares", coredeployment.DefaultCPUShares)
	v.SetDefault("orchestrator.restart_policy", coredeployment.DefaultRestartPolicy)
	v.SetDefault("orchestrator.readiness_grace", orchestrator.DefaultReadinessGrace.String())
	v.SetDefault("orchestrator.readiness_attempts", orchestrator.DefaultReadinessAttempts)
	v.SetDefault("orchestrator.stop_timeout", orchestrator.DefaultStopTimeout.String())
	v.SetDefault("orchestrator.no_cache", false)
	v.SetDefault("orchestrator.build_args", []string{})

	v.SetDefault("logsink.buffer_size", logsink.DefaultBufferSize)
	v.SetDefault("logsink.history_size", logsink.DefaultHistorySize)
	v.SetDefault("logsink.max_deployments", logsink.DefaultMaxDeployments)

	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "30s")
	v.SetDefault("reconciler.timeout", "10s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("LAUNCHPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Orchestrator.BasePort <= 0 || c.Orchestrator.BasePort > 65535 {
		return fmt.Errorf("orchestrator.base_port out of range: %d", c.Orchestrator.BasePort)
	}
	if c.Orchestrator.ContainerPort <= 0 || c.Orchestrator.ContainerPort > 65535 {
		return fmt.Errorf("orchestrator.container_port out of range: %d", c.Orchestrator.ContainerPort)
	}
	if c.Orchestrator.ReadinessAttempts < 1 {
		return errors.New("orchestrator.readiness_attempts must be at least 1")
	}
	for _, e := range c.Orchestrator.BuildArgs {
		if k, _, ok := strings.Cut(e, "="); !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("orchestrator.build_args entry %q is not KEY=VALUE", e)
		}
	}
	if c.LogSink.BufferSize < 1 {
		return errors.New("logsink.buffer_size must be at least 1")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
