package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultConfigYAML []byte

const envPrefix = "SYNCSLIDES_"

type Config struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	LogFile  string `yaml:"log_file" env:"LOG_FILE"`
	DeviceID string `yaml:"device_id" env:"DEVICE_ID"`

	Presenter Presenter `yaml:"presenter" envPrefix:"PRESENTER_"`
	History   History   `yaml:"history" envPrefix:"HISTORY_"`
	Storage   Storage   `yaml:"storage" envPrefix:"STORAGE_"`
	Discovery Discovery `yaml:"discovery" envPrefix:"DISCOVERY_"`
	Timeouts  Timeouts  `yaml:"timeouts" envPrefix:"TIMEOUTS_"`
}

type Presenter struct {
	ID   string `yaml:"id" env:"ID"`
	Name string `yaml:"name" env:"NAME"`
}

type History struct {
	LogSize int `yaml:"log_size" env:"LOG_SIZE"`
}

type Storage struct {
	Driver StorageDriver `yaml:"driver" env:"DRIVER"`
	Memory MemoryStorage `yaml:"memory" envPrefix:"MEMORY_"`
	Bolt   BoltStorage   `yaml:"bolt" envPrefix:"BOLT_"`
	Redis  RedisStorage  `yaml:"redis" envPrefix:"REDIS_"`
}

type MemoryStorage struct {
	ChangelogSize int `yaml:"changelog_size" env:"CHANGELOG_SIZE"`
}

type BoltStorage struct {
	File          string        `yaml:"file" env:"FILE"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	ChangelogSize int           `yaml:"changelog_size" env:"CHANGELOG_SIZE"`
}

type RedisStorage struct {
	Addr          string        `yaml:"addr" env:"ADDR"`
	Password      string        `yaml:"password" env:"PASSWORD"`
	DB            int           `yaml:"db" env:"DB"`
	Prefix        string        `yaml:"prefix" env:"PREFIX"`
	BlockTimeout  time.Duration `yaml:"block_timeout" env:"BLOCK_TIMEOUT"`
	ChangelogSize int64         `yaml:"changelog_size" env:"CHANGELOG_SIZE"`
}

type Discovery struct {
	Driver        DiscoveryDriver `yaml:"driver" env:"DRIVER"`
	ServiceType   string          `yaml:"service_type" env:"SERVICE_TYPE"`
	Domain        Domain          `yaml:"domain" env:"DOMAIN"`
	InterfaceName string          `yaml:"interface_name" env:"INTERFACE_NAME"`
	ScanInterval  time.Duration   `yaml:"scan_interval" env:"SCAN_INTERVAL"`
	BrowseTimeout time.Duration   `yaml:"browse_timeout" env:"BROWSE_TIMEOUT"`
	FetchTimeout  time.Duration   `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	ResponderAddr string          `yaml:"responder_addr" env:"RESPONDER_ADDR"`
	MDNSAddr      string          `yaml:"mdns_addr" env:"MDNS_ADDR"`
}

type Timeouts struct {
	SessionRead time.Duration `yaml:"session_read" env:"SESSION_READ"`
}

func (c *Config) init() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse env: %w", err)
	}
	if err := c.Storage.Driver.validate(); err != nil {
		return err
	}
	if err := c.Discovery.Driver.validate(); err != nil {
		return err
	}
	c.setDefaults()
	return nil
}

func (c *Config) setDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
	}
	if c.Presenter.ID == "" {
		c.Presenter.ID = c.DeviceID
	}
	if c.Presenter.Name == "" {
		c.Presenter.Name, _ = os.Hostname()
	}
}

func DefaultConfig() (*Config, error) {
	cfg := defaultConfig()
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := defaultConfig()
	if err = yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		panic(fmt.Errorf("failed to load default config: %w", err))
	}
	return &cfg
}
