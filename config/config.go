package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Game     GameConfig     `mapstructure:"game"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GameConfig carries the session-layer tuning knobs.
type GameConfig struct {
	PresenceGraceSeconds int `mapstructure:"presence_grace_seconds"`
	TurnDeadlineHours    int `mapstructure:"turn_deadline_hours"`
	InviteCodeAttempts   int `mapstructure:"invite_code_attempts"`
	MaxCombatants        int `mapstructure:"max_combatants"`
}

// PresenceGrace returns the reconnect grace window for presence tracking.
func (g GameConfig) PresenceGrace() time.Duration {
	return time.Duration(g.PresenceGraceSeconds) * time.Second
}

// TurnDeadline returns the advisory deadline window for async turns.
func (g GameConfig) TurnDeadline() time.Duration {
	return time.Duration(g.TurnDeadlineHours) * time.Hour
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_address", ":8080")
	viper.SetDefault("server.rpc_address", ":8081")
	viper.SetDefault("server.metrics_address", ":9100")
	viper.SetDefault("game.presence_grace_seconds", 30)
	viper.SetDefault("game.turn_deadline_hours", 24)
	viper.SetDefault("game.invite_code_attempts", 5)
	viper.SetDefault("game.max_combatants", 32)

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
