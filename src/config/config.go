package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"personal/discord_client/src/opcodes"
)

// Config is layered: defaults, then the YAML file named by --config, then
// .env and the process environment, then command line flags.
type Config struct {
	Token            string  `yaml:"token"`
	Intents          string  `yaml:"intents"`
	Shard            *[2]int `yaml:"shard"`
	LargeThreshold   int     `yaml:"large_threshold"`
	Compress         bool    `yaml:"compress"`
	Workers          int     `yaml:"workers"`
	SnapshotOnUpdate bool    `yaml:"snapshot_on_update"`
	// CloseCodesFile replaces the built-in close code table.
	CloseCodesFile string `yaml:"close_codes_file"`
	APIBase        string `yaml:"api_base"`
	LogLevel       string `yaml:"log_level"`

	Reconnect struct {
		MinBackoff time.Duration `yaml:"min_backoff"`
		MaxBackoff time.Duration `yaml:"max_backoff"`
	} `yaml:"reconnect"`
}

func Default() Config {
	cfg := Config{
		Intents:  "guilds,guild_messages,guild_message_reactions,direct_messages,guild_voice_states",
		Workers:  1,
		LogLevel: "info",
	}
	cfg.Reconnect.MinBackoff = time.Second
	cfg.Reconnect.MaxBackoff = 2 * time.Minute
	return cfg
}

// Load builds the configuration for a process started with args (without
// the program name).
func Load(args []string) (Config, error) {
	flagSet := pflag.NewFlagSet("discord_client", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to a YAML config file")
	envFile := flagSet.String("env-file", ".env", "dotenv file loaded into the environment if present")
	debug := flagSet.Bool("debug", false, "log at debug level")
	workers := flagSet.Int("workers", 0, "task queue workers")
	intents := flagSet.String("intents", "", "comma separated gateway intents")
	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("could not load %s: %w", *envFile, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if flagSet.Changed("workers") {
		cfg.Workers = *workers
	}
	if flagSet.Changed("intents") {
		cfg.Intents = *intents
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DISCORD_TOKEN"); ok {
		c.Token = v
	}
	if v, ok := lookup("DISCORD_INTENTS"); ok {
		c.Intents = v
	}
	if v, ok := lookup("DISCORD_SHARD"); ok {
		shard, err := parseShard(v)
		if err != nil {
			return fmt.Errorf("DISCORD_SHARD: %w", err)
		}
		c.Shard = shard
	}
	if v, ok := lookup("DISCORD_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DISCORD_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

// parseShard reads "id/count".
func parseShard(v string) (*[2]int, error) {
	idPart, countPart, ok := strings.Cut(v, "/")
	if !ok {
		return nil, fmt.Errorf("expected id/count, got %q", v)
	}
	id, err := strconv.Atoi(strings.TrimSpace(idPart))
	if err != nil {
		return nil, fmt.Errorf("invalid shard id: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(countPart))
	if err != nil {
		return nil, fmt.Errorf("invalid shard count: %w", err)
	}
	return &[2]int{id, count}, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("token is required (DISCORD_TOKEN)"))
	}
	if _, err := c.IntentMask(); err != nil {
		errs = append(errs, err)
	}
	if c.Shard != nil && (c.Shard[1] < 1 || c.Shard[0] < 0 || c.Shard[0] >= c.Shard[1]) {
		errs = append(errs, fmt.Errorf("shard %d/%d out of range", c.Shard[0], c.Shard[1]))
	}
	if c.LargeThreshold != 0 && (c.LargeThreshold < 50 || c.LargeThreshold > 250) {
		errs = append(errs, fmt.Errorf("large_threshold %d not within 50..250", c.LargeThreshold))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Reconnect.MinBackoff <= 0 || c.Reconnect.MaxBackoff < c.Reconnect.MinBackoff {
		errs = append(errs, fmt.Errorf("reconnect backoff %v..%v is not a valid range", c.Reconnect.MinBackoff, c.Reconnect.MaxBackoff))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) IntentMask() (opcodes.Intent, error) {
	return opcodes.ParseIntents(c.Intents)
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}
