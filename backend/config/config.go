// Package config 读取 codecolabConfig.yaml，环境变量 CODECOLAB_* 可覆盖任意字段。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingSecret 表示开启了强制鉴权却没有配置 JWT 密钥。
var ErrMissingSecret = errors.New("config: Auth.secret is required when Auth.required is true")

type Config struct {
	Running struct {
		Port int    `mapstructure:"Port"`
		Mode string `mapstructure:"Mode"`
	} `mapstructure:"Running"`
	Redis struct {
		Addrs     []string      `mapstructure:"addrs"`
		Password  string        `mapstructure:"password"`
		RosterTTL time.Duration `mapstructure:"rosterTTL"`
	} `mapstructure:"Redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Secret   string `mapstructure:"secret"`
		Required bool   `mapstructure:"required"`
	} `mapstructure:"Auth"`
	Cors struct {
		AllowOrigins []string `mapstructure:"allowOrigins"`
	} `mapstructure:"Cors"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"Log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Running.Port", 3002)
	v.SetDefault("Running.Mode", "release")
	v.SetDefault("Redis.rosterTTL", "60s")
	v.SetDefault("Kafka.topic", "room-activity")
	// 空默认值只为让 CODECOLAB_AUTH_SECRET 能被 Unmarshal 识别
	v.SetDefault("Auth.secret", "")
	v.SetDefault("Auth.required", false)
	v.SetDefault("Log.level", "info")
}

// Load path 为空时按顺序在 ./backend/config、./config、. 下查找 codecolabConfig.yaml，
// 找不到配置文件不算错误，使用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CODECOLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codecolabConfig")
		v.SetConfigType("yaml")
		// 兼容从项目根目录或 backend 目录启动
		v.AddConfigPath("./backend/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.RosterTTL <= 0 {
		cfg.Redis.RosterTTL = time.Minute
	}
	// 密钥没有默认值，必须来自配置文件或 CODECOLAB_AUTH_SECRET
	if cfg.Auth.Required && cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("load %s: %w", v.ConfigFileUsed(), ErrMissingSecret)
	}
	return cfg, nil
}
