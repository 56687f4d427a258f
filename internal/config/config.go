package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Board       BoardConfig       `mapstructure:"board"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Interpreter command.Limits    `mapstructure:"interpreter"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Sampling    SamplingConfig    `mapstructure:"sampling"`
	Thermal     ThermalConfig     `mapstructure:"thermal"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Console     ConsoleConfig     `mapstructure:"console"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

type ServerConfig struct {
	TelnetPort      int           `mapstructure:"telnet_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BoardConfig struct {
	Profile     string   `mapstructure:"profile"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type StorageConfig struct {
	BoltPath   string `mapstructure:"bolt_path"`
	RegionSize uint32 `mapstructure:"region_size"`
}

// DatabaseConfig is optional; an empty host disables the sample archive.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type CalibrationConfig struct {
	ValidMinTemp float32 `mapstructure:"valid_min_temp"`
	ValidMaxTemp float32 `mapstructure:"valid_max_temp"`
}

type SamplingConfig struct {
	Period time.Duration `mapstructure:"period"`
}

type ThermalConfig struct {
	Schedule       string  `mapstructure:"schedule"`
	AmbientCelsius float32 `mapstructure:"ambient_celsius"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type ConsoleConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// AuthConfig guards the mutating REST routes. Operators log in with a
// password; machine tokens are matched by their SHA-256 hash.
type AuthConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	JWTSecret      string               `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration        `mapstructure:"access_token_ttl"`
	Issuer         string               `mapstructure:"issuer"`
	Operators      []OperatorConfig     `mapstructure:"operators"`
	MachineTokens  []MachineTokenConfig `mapstructure:"machine_tokens"`
}

type OperatorConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	Hash        string   `mapstructure:"hash"`
	Permissions []string `mapstructure:"permissions"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("TEKDAQC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	limits := command.DefaultLimits()

	v.SetDefault("server.telnet_port", 9800)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("board.profile", "tekdaqc-rev-e")
	v.SetDefault("board.search_paths", []string{"./configs", "/etc/tekdaqc"})

	v.SetDefault("storage.bolt_path", "./data/tekdaqc.db")
	v.SetDefault("storage.region_size", 131072)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("interpreter.max_line_length", limits.MaxLineLength)
	v.SetDefault("interpreter.max_part_length", limits.MaxPartLength)
	v.SetDefault("interpreter.max_args", limits.MaxArgs)

	v.SetDefault("calibration.valid_min_temp", 0)
	v.SetDefault("calibration.valid_max_temp", 70)

	v.SetDefault("sampling.period", "100ms")

	v.SetDefault("thermal.schedule", "@every 10s")
	v.SetDefault("thermal.ambient_celsius", 25)

	v.SetDefault("mqtt.client_id", "tekdaqc")
	v.SetDefault("mqtt.topic_prefix", "tekdaqc")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("console.baud_rate", 115200)

	v.SetDefault("logging.level", "info")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.issuer", "tekdaqc")
}

func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
