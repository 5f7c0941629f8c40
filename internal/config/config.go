// Package config provides configuration loading for the LansRealEstate deployer.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment variables read by the loader. The three network variables keep
// their historical unprefixed names; everything else uses the LANSELLER_ prefix.
const (
	EnvAPIURL     = "API_URL"
	EnvPrivateKey = "PRIVATE_KEY"
	EnvAPIKey     = "API_KEY"

	envPrefix = "LANSELLER"
)

// Base Sepolia constants.
const (
	BaseSepoliaNetwork    = "base_sepolia"
	BaseSepoliaChainID    = 84532
	DefaultBaseSepoliaURL = "https://sepolia.base.org"
	BasescanAPIURL        = "https://api-sepolia.basescan.org/api"
	BasescanBrowserURL    = "https://sepolia.basescan.org"

	// SolidityVersion is the compiler version the artifacts are built with.
	SolidityVersion = "0.8.24"
)

var (
	// ErrMissingPrivateKey is returned when no signing credential is configured.
	ErrMissingPrivateKey = errors.New("config: PRIVATE_KEY is not set; export it or add it to your .env file")
	// ErrUnknownNetwork is returned when a network name is not declared.
	ErrUnknownNetwork = errors.New("config: unknown network")
)

// Config holds all configuration for the deployer.
type Config struct {
	Solidity       SolidityConfig     `mapstructure:"solidity" yaml:"solidity"`
	DefaultNetwork string             `mapstructure:"default_network" yaml:"defaultNetwork" validate:"required"`
	Networks       map[string]Network `mapstructure:"-" yaml:"networks" validate:"required,min=1,dive"`
	Etherscan      EtherscanConfig    `mapstructure:"-" yaml:"etherscan"`
	Paths          PathsConfig        `mapstructure:"paths" yaml:"paths"`
	Log            LogConfig          `mapstructure:"log" yaml:"log"`
	Deploy         DeployConfig       `mapstructure:"deploy" yaml:"deploy"`
	Database       DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Redis          RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Server         ServerConfig       `mapstructure:"server" yaml:"server"`
}

// SolidityConfig describes the compiler the artifacts were produced with.
type SolidityConfig struct {
	Version string `mapstructure:"version" yaml:"version" validate:"required"`
}

// Network is the connection and signing parameters for one endpoint.
type Network struct {
	URL      string   `yaml:"url" validate:"required,url"`
	Accounts []string `yaml:"accounts" validate:"min=1,dive,required"`
	ChainID  int64    `yaml:"chainId" validate:"gt=0"`
}

// EtherscanConfig holds explorer verification settings.
type EtherscanConfig struct {
	APIKey       string        `yaml:"apiKey"`
	CustomChains []CustomChain `yaml:"customChains" validate:"dive"`
}

// CustomChain maps a named network to explorer endpoints.
type CustomChain struct {
	Network string    `yaml:"network" validate:"required"`
	ChainID int64     `yaml:"chainId" validate:"gt=0"`
	URLs    ChainURLs `yaml:"urls"`
}

// ChainURLs are the explorer API and browser endpoints for a chain.
type ChainURLs struct {
	APIURL     string `yaml:"apiURL" validate:"required,url"`
	BrowserURL string `yaml:"browserURL" validate:"required,url"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	Artifacts   string `mapstructure:"artifacts" yaml:"artifacts" validate:"required"`
	Deployments string `mapstructure:"deployments" yaml:"deployments" validate:"required"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// DeployConfig tunes transaction submission.
type DeployConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"pollInterval" validate:"gt=0"`
	ReceiptTimeout   time.Duration `mapstructure:"receipt_timeout" yaml:"receiptTimeout" validate:"gt=0"`
	GasBufferPercent uint64        `mapstructure:"gas_buffer_percent" yaml:"gasBufferPercent"`
	FallbackGasLimit uint64        `mapstructure:"fallback_gas_limit" yaml:"fallbackGasLimit" validate:"gt=0"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"maxRetries" validate:"gte=1"`
	LockTTL          time.Duration `mapstructure:"lock_ttl" yaml:"lockTTL" validate:"gt=0"`
}

// DatabaseConfig holds optional PostgreSQL settings. An empty DSN selects the file journal.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"maxConns"`
}

// RedisConfig holds optional Redis settings. An empty Addr disables the deploy lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// ServerConfig holds status server settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"writeTimeout"`
}

// Options control where Load looks for input.
type Options struct {
	// EnvFiles are loaded best-effort into the process environment.
	// Variables already set in the environment are not overridden.
	EnvFiles []string
	// ConfigPaths are searched for an optional lanseller.yaml.
	ConfigPaths []string
}

// DefaultOptions reads .env and lanseller.yaml from the working directory.
func DefaultOptions() Options {
	return Options{
		EnvFiles:    []string{".env"},
		ConfigPaths: []string{".", "./config"},
	}
}

// Load reads configuration using DefaultOptions.
func Load() (*Config, error) {
	return LoadWithOptions(DefaultOptions())
}

// LoadWithOptions reads configuration from env files, an optional config file,
// and environment variables. It fails before any network entry is built when
// PRIVATE_KEY is absent.
func LoadWithOptions(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigName("lanseller")
	v.SetConfigType("yaml")
	for _, p := range opts.ConfigPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range map[string]string{
		"network.url":         EnvAPIURL,
		"network.private_key": EnvPrivateKey,
		"etherscan.api_key":   EnvAPIKey,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if len(opts.ConfigPaths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	privateKey := v.GetString("network.private_key")
	if strings.TrimSpace(privateKey) == "" {
		return nil, ErrMissingPrivateKey
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	rpcURL := v.GetString("network.url")
	if rpcURL == "" {
		rpcURL = DefaultBaseSepoliaURL
	}

	cfg.Networks = map[string]Network{
		BaseSepoliaNetwork: {
			URL:      rpcURL,
			Accounts: []string{privateKey},
			ChainID:  BaseSepoliaChainID,
		},
	}
	cfg.Etherscan = EtherscanConfig{
		APIKey: v.GetString("etherscan.api_key"),
		CustomChains: []CustomChain{
			{
				Network: BaseSepoliaNetwork,
				ChainID: cfg.Networks[BaseSepoliaNetwork].ChainID,
				URLs: ChainURLs{
					APIURL:     BasescanAPIURL,
					BrowserURL: BasescanBrowserURL,
				},
			},
		},
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("solidity.version", SolidityVersion)
	v.SetDefault("default_network", BaseSepoliaNetwork)

	v.SetDefault("paths.artifacts", "artifacts")
	v.SetDefault("paths.deployments", "ignition/deployments")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("deploy.poll_interval", "2s")
	v.SetDefault("deploy.receipt_timeout", "5m")
	v.SetDefault("deploy.gas_buffer_percent", 20)
	v.SetDefault("deploy.fallback_gas_limit", 10_000_000)
	v.SetDefault("deploy.max_retries", 3)
	v.SetDefault("deploy.lock_ttl", "15m")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
}

var validate = validator.New()

// Validate checks field constraints and that every custom chain points at a
// declared network with the same chain ID.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.Networks[c.DefaultNetwork]; !ok {
		return fmt.Errorf("%w: default network %q", ErrUnknownNetwork, c.DefaultNetwork)
	}
	for _, cc := range c.Etherscan.CustomChains {
		n, ok := c.Networks[cc.Network]
		if !ok {
			return fmt.Errorf("%w: custom chain references %q", ErrUnknownNetwork, cc.Network)
		}
		if n.ChainID != cc.ChainID {
			return fmt.Errorf("invalid config: custom chain %q has chain ID %d but network declares %d",
				cc.Network, cc.ChainID, n.ChainID)
		}
	}
	return nil
}

// Network returns the named network, or the default network when name is empty.
func (c *Config) Network(name string) (Network, error) {
	if name == "" {
		name = c.DefaultNetwork
	}
	n, ok := c.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return n, nil
}

// CustomChain returns the explorer entry for a network, if any.
func (c *Config) CustomChain(network string) (CustomChain, bool) {
	for _, cc := range c.Etherscan.CustomChains {
		if cc.Network == network {
			return cc, true
		}
	}
	return CustomChain{}, false
}

// Redacted returns a deep copy safe to print. Private keys, the explorer API
// key, the Redis password and any DSN password are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Networks = make(map[string]Network, len(c.Networks))
	for name, n := range c.Networks {
		accounts := make([]string, len(n.Accounts))
		for i, a := range n.Accounts {
			accounts[i] = mask(a)
		}
		n.Accounts = accounts
		out.Networks[name] = n
	}
	out.Etherscan.CustomChains = append([]CustomChain(nil), c.Etherscan.CustomChains...)
	if out.Etherscan.APIKey != "" {
		out.Etherscan.APIKey = mask(out.Etherscan.APIKey)
	}
	if out.Redis.Password != "" {
		out.Redis.Password = mask(out.Redis.Password)
	}
	out.Database.DSN = redactDSN(out.Database.DSN)
	return &out
}

// redactDSN hides the password in a URL-form DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	return u.Redacted()
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
