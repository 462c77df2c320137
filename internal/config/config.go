package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	LoadBalancerPort int `mapstructure:"load_balancer_port"`
	WorkerPort       int `mapstructure:"worker_port"`
	GatewayPort      int `mapstructure:"gateway_port"`

	// LoadBalancerURL is where workers and the gateway reach the balancer;
	// WorkerURL is the base URL a worker advertises about itself.
	LoadBalancerURL string `mapstructure:"load_balancer_url"`
	WorkerURL       string `mapstructure:"worker_url"`

	CPUThreshold    float64 `mapstructure:"cpu_threshold"`
	SelectionPolicy string  `mapstructure:"selection_policy"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StalenessTimeout  time.Duration `mapstructure:"staleness_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("load_balancer_port", 3030)
	v.SetDefault("worker_port", 3031)
	v.SetDefault("gateway_port", 8080)
	v.SetDefault("load_balancer_url", "http://127.0.0.1:3030")
	v.SetDefault("worker_url", "http://127.0.0.1:3031")
	v.SetDefault("cpu_threshold", 60.0)
	v.SetDefault("selection_policy", "spread")
	v.SetDefault("heartbeat_interval", "3s")
	v.SetDefault("staleness_timeout", "10s")
	v.SetDefault("sweep_interval", "5s")
	v.SetDefault("request_timeout", "5s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
