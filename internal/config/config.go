package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for rltrader.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Logging    Logging    `yaml:"logging"`
	Data       Data       `yaml:"data"`
	Simulation Simulation `yaml:"simulation"`
	Training   Training   `yaml:"training"`
	Backtest   Backtest   `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ModelsDir  string `yaml:"models_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and the market data endpoint.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data controls how historical bars are fetched.
type Data struct {
	Interval        string        `yaml:"interval"`
	Retries         int           `yaml:"retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	// Cache reads and writes daily bars through the parquet store.
	Cache bool `yaml:"cache"`
}

// Simulation holds environment defaults.
type Simulation struct {
	InitialBalance float64 `yaml:"initial_balance"`
	Months         int     `yaml:"months"`
	MinBars        int     `yaml:"min_bars"`
}

// Training holds learner defaults. Zero tunables fall back to the learner's
// own defaults.
type Training struct {
	Algorithm string `yaml:"algorithm"`
	Timesteps int    `yaml:"timesteps"`
	Seed      int64  `yaml:"seed"`

	LearningRate float64 `yaml:"learning_rate"`
	Gamma        float64 `yaml:"gamma"`
	Epsilon      float64 `yaml:"epsilon"`
	EpsilonMin   float64 `yaml:"epsilon_min"`
	EpsilonDecay float64 `yaml:"epsilon_decay"`
	TDClip       float64 `yaml:"td_clip"`

	StepSize     float64 `yaml:"step_size"`
	NoiseStd     float64 `yaml:"noise_std"`
	Directions   int     `yaml:"directions"`
	TopK         int     `yaml:"top_k"`
	RolloutSteps int     `yaml:"rollout_steps"`
}

// Backtest holds backtest defaults.
type Backtest struct {
	Strategy string `yaml:"strategy"`
}

// DefaultPath is the config file used when RLTRADER_CONFIG is unset.
const DefaultPath = "config/rltrader.yaml"

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a .env file from the working directory when present, parses
// the YAML configuration file at the given path, applies environment
// variable overrides and fills defaults. A missing file at DefaultPath is
// not an error; the configuration then comes from the environment alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// PathFromEnv returns RLTRADER_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("RLTRADER_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// envOverrides lists the environment variables that override file values.
// Unset variables leave the file value alone.
type envOverrides struct {
	DataDir    string `envconfig:"DATA_DIR"`
	SQLitePath string `envconfig:"SQLITE_PATH"`
	ModelsDir  string `envconfig:"MODELS_DIR"`
	AlpacaKey  string `envconfig:"ALPACA_API_KEY"`
	AlpacaSec  string `envconfig:"ALPACA_API_SECRET"`
	AlpacaData string `envconfig:"ALPACA_DATA_URL"`
	AlpacaFeed string `envconfig:"ALPACA_FEED"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	LogFormat  string `envconfig:"LOG_FORMAT"`
	Algorithm  string `envconfig:"RLTRADER_ALGORITHM"`
	Timesteps  int    `envconfig:"RLTRADER_TIMESTEPS"`
	ServerPort int    `envconfig:"RLTRADER_PORT"`
	GRPCPort   int    `envconfig:"RLTRADER_GRPC_PORT"`
	APCAKeyID  string `envconfig:"APCA_API_KEY_ID"`
	APCASecret string `envconfig:"APCA_API_SECRET_KEY"`
}

// applyEnvOverrides reads the well-known environment variables and
// overrides the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}

	setString(&cfg.Storage.DataDir, env.DataDir)
	setString(&cfg.Storage.SQLitePath, env.SQLitePath)
	setString(&cfg.Storage.ModelsDir, env.ModelsDir)
	setString(&cfg.Alpaca.APIKey, env.AlpacaKey)
	setString(&cfg.Alpaca.APISecret, env.AlpacaSec)
	setString(&cfg.Alpaca.DataURL, env.AlpacaData)
	setString(&cfg.Alpaca.Feed, env.AlpacaFeed)
	setString(&cfg.Logging.Level, env.LogLevel)
	setString(&cfg.Logging.Format, env.LogFormat)
	setString(&cfg.Training.Algorithm, env.Algorithm)
	if env.Timesteps > 0 {
		cfg.Training.Timesteps = env.Timesteps
	}
	if env.ServerPort > 0 {
		cfg.Server.Port = env.ServerPort
	}
	if env.GRPCPort > 0 {
		cfg.Server.GRPCPort = env.GRPCPort
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	setString(&cfg.Alpaca.APIKey, env.APCAKeyID)
	setString(&cfg.Alpaca.APISecret, env.APCASecret)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = c.Storage.DataDir + "/rltrader.db"
	}
	if c.Storage.ModelsDir == "" {
		c.Storage.ModelsDir = "models"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Data.Interval == "" {
		c.Data.Interval = "1d"
	}
	if c.Data.Retries <= 0 {
		c.Data.Retries = 3
	}
	if c.Data.RetryDelay <= 0 {
		c.Data.RetryDelay = 5 * time.Second
	}
	if c.Data.RateLimitPerMin <= 0 {
		c.Data.RateLimitPerMin = 200
	}
	if c.Simulation.InitialBalance <= 0 {
		c.Simulation.InitialBalance = 10000
	}
	if c.Simulation.Months <= 0 {
		c.Simulation.Months = 12
	}
	if c.Simulation.MinBars <= 0 {
		c.Simulation.MinBars = 20
	}
	if c.Training.Algorithm == "" {
		c.Training.Algorithm = "qlearn"
	}
	if c.Training.Timesteps <= 0 {
		c.Training.Timesteps = 100000
	}
	if c.Backtest.Strategy == "" {
		c.Backtest.Strategy = "rsi-threshold"
	}
}
