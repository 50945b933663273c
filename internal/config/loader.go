package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Security SecurityConfig `mapstructure:"security"`
	Features FeaturesConfig `mapstructure:"features"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	WebDir       string        `mapstructure:"web_dir"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	HostHeader  string        `mapstructure:"host_header"`
	Timeout     time.Duration `mapstructure:"timeout"` // 0 keeps the platform default
	ExchangeLog int           `mapstructure:"exchange_log"`
}

type QueueConfig struct {
	DefaultCeiling  int           `mapstructure:"default_ceiling"`
	MaxCeiling      int           `mapstructure:"max_ceiling"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReevaluateDelay time.Duration `mapstructure:"reevaluate_delay"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

type StorageConfig struct {
	Driver    string            `mapstructure:"driver"` // local or sftp
	BaseDir   string            `mapstructure:"base_dir"`
	InputsDir string            `mapstructure:"inputs_dir"`
	Paths     map[string]string `mapstructure:"paths"`
	SFTP      SFTPConfig        `mapstructure:"sftp"`
}

type SFTPConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	KeyPath    string        `mapstructure:"key_path"`
	Root       string        `mapstructure:"root"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminToken     string   `mapstructure:"admin_token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultPaths maps each gallery category to its output directory.
func DefaultPaths() map[string]string {
	return map[string]string{
		"images": "outputs/images",
		"videos": "outputs/videos",
		"audios": "outputs/audios",
		"texts":  "outputs/texts",
		"others": "outputs/others",
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8050)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.web_dir", "web")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/apphub.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("remote.base_url", "https://www.runninghub.cn")
	v.SetDefault("remote.host_header", "www.runninghub.cn")
	v.SetDefault("remote.timeout", 0)
	v.SetDefault("remote.exchange_log", 200)

	v.SetDefault("queue.default_ceiling", 1)
	v.SetDefault("queue.max_ceiling", 10)
	v.SetDefault("queue.poll_interval", 3*time.Second)
	v.SetDefault("queue.reevaluate_delay", 500*time.Millisecond)
	v.SetDefault("queue.startup_delay", time.Second)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.inputs_dir", "inputs")
	v.SetDefault("storage.paths", DefaultPaths())
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.timeout", 30*time.Second)
	v.SetDefault("storage.sftp.max_retries", 3)

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)
}

// Load reads the YAML file at path (when it exists) on top of the built-in
// defaults and APPHUB_* environment overrides.
func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("APPHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if _, err := os.Stat(path); err == nil {
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Keep categories that the file does not mention.
	for cat, p := range DefaultPaths() {
		if _, ok := cfg.Storage.Paths[cat]; !ok {
			if cfg.Storage.Paths == nil {
				cfg.Storage.Paths = map[string]string{}
			}
			cfg.Storage.Paths[cat] = p
		}
	}

	return &cfg, nil
}

// SavePaths writes the storage path mapping back to the config file.
func SavePaths(paths map[string]string) error {
	viper.Set("storage.paths", paths)
	if err := viper.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
