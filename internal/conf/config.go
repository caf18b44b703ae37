// config.go: settings for the GuardTrack patrol coordination service. Defines
// the settings struct tree and the functions that load it from file and
// environment.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains application-level settings.
type MainSettings struct {
	Name string // instance name, used as MQTT client id prefix
	Log  LogConfig
}

// LogConfig defines file logging for the main application log.
type LogConfig struct {
	Enabled bool
	Path    string
}

// ServerSettings contains the HTTP listener configuration.
type ServerSettings struct {
	Host string
	Port string
}

// SQLiteSettings contains SQLite database settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains MySQL database settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// DatabaseSettings selects and configures the relational store.
type DatabaseSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MQTTSettings configures the realtime messaging channel.
type MQTTSettings struct {
	Enabled     bool
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// PatrolSettings tunes the field-safety core.
type PatrolSettings struct {
	// GeofenceToleranceMeters is the single source of truth for the maximum
	// allowed distance between a scan coordinate and a checkpoint coordinate.
	GeofenceToleranceMeters float64
	// StalenessWindow is how long a presence record stays visible without a
	// fresh heartbeat.
	StalenessWindow time.Duration
	// BroadcastInterval is the cadence of batched presence broadcasts.
	BroadcastInterval time.Duration
	// NearestResponders is how many nearby guards a panic alert targets.
	NearestResponders int
}

// AgentSettings configures the device-side agent process.
type AgentSettings struct {
	ServerURL     string        // base URL of the coordination server
	QueuePath     string        // path of the local durable action queue database
	DrainInterval time.Duration // how often the drain worker wakes up
	HTTPTimeout   time.Duration // per-request submission timeout
}

// Settings is the root of the configuration tree.
type Settings struct {
	Debug bool

	Main     MainSettings
	Server   ServerSettings
	Database DatabaseSettings
	MQTT     MQTTSettings
	Patrol   PatrolSettings
	Agent    AgentSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and stores it as the global instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Environment variables override file values, e.g. GUARDTRACK_SERVER_PORT.
	// Nested keys use dots internally, so they must be mapped to underscores
	// for env lookup.
	viper.SetEnvPrefix("guardtrack")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first default
// config path so the user has a file to edit.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the list of directories searched for
// config.yaml, in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "guardtrack"))
	}
	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, errors.New("no config paths available")
	}
	return paths, nil
}

// GetSettings returns the current global settings instance, or nil if Load
// has not been called.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting is a shorthand for GetSettings.
func Setting() *Settings {
	return GetSettings()
}
