package config

import (
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/ZentaChain/talkrelay/pkg/storage"
)

// Config captures the relay runtime parameters.
type Config struct {
	ListenAddress       string            `mapstructure:"listen_address"`
	WebSocketAddress    string            `mapstructure:"websocket_address"`
	AdminAddress        string            `mapstructure:"admin_address"`
	SendBuffer          int               `mapstructure:"send_buffer"`
	HeartbeatInterval   time.Duration     `mapstructure:"heartbeat_interval"`
	ShutdownGracePeriod time.Duration     `mapstructure:"shutdown_grace_period"`
	Log                 LogConfig         `mapstructure:"log"`
	Credentials         CredentialsConfig `mapstructure:"credentials"`
}

// LogConfig mirrors logging.Config
type LogConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	ReportCaller bool   `mapstructure:"report_caller"`
}

// CredentialsConfig selects the credential store backend.
type CredentialsConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

const (
	defaultListenAddress       = ":1337"
	defaultAdminAddress        = "127.0.0.1:8081"
	defaultSendBuffer          = 32
	defaultHeartbeatInterval   = 5 * time.Minute
	defaultShutdownGracePeriod = 10 * time.Second
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultCredentialsBackend  = storage.BackendFile
	defaultCredentialsPath     = "server_data/user_details.txt"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with TALKRELAY_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TALKRELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("websocket_address", "")
	v.SetDefault("admin_address", defaultAdminAddress)
	v.SetDefault("send_buffer", defaultSendBuffer)
	v.SetDefault("heartbeat_interval", defaultHeartbeatInterval.String())
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.report_caller", false)
	v.SetDefault("credentials.backend", defaultCredentialsBackend)
	v.SetDefault("credentials.path", defaultCredentialsPath)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, oops.In("config").With("path", path).Wrapf(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, oops.In("config").Wrapf(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var result *multierror.Error

	if c.ListenAddress == "" {
		result = multierror.Append(result, oops.In("config").Errorf("listen_address must not be empty"))
	}
	if c.SendBuffer <= 0 {
		result = multierror.Append(result, oops.In("config").With("send_buffer", c.SendBuffer).Errorf("send_buffer must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		result = multierror.Append(result, oops.In("config").With("heartbeat_interval", c.HeartbeatInterval).Errorf("heartbeat_interval must be positive"))
	}
	switch c.Credentials.Backend {
	case storage.BackendFile, storage.BackendSQLite:
	default:
		result = multierror.Append(result, oops.In("config").With("backend", c.Credentials.Backend).Wrapf(storage.ErrUnknownBackend, "credentials.backend"))
	}
	if c.Credentials.Path == "" {
		result = multierror.Append(result, oops.In("config").Errorf("credentials.path must not be empty"))
	}

	return result.ErrorOrNil()
}
