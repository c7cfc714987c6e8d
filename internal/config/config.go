package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// JAMSCRIBE_ENGINE_MODEL=medium.
const EnvPrefix = "JAMSCRIBE"

type Config struct {
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`

	SupportedAudioExtensions []string `mapstructure:"supported_audio_extensions" yaml:"supported_audio_extensions" validate:"dive,startswith=."`
}

type StorageConfig struct {
	Database            string `mapstructure:"database" yaml:"database" validate:"required"`
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory" validate:"required"`
}

type EngineConfig struct {
	Command       string        `mapstructure:"command" yaml:"command" validate:"required"`
	Args          []string      `mapstructure:"args" yaml:"args,omitempty"` // prepended before engine options
	Model         string        `mapstructure:"model" yaml:"model" validate:"oneof=tiny base small medium large"`
	Language      string        `mapstructure:"language" yaml:"language" validate:"required,max=10"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
	ModelCache    string        `mapstructure:"model_cache" yaml:"model_cache"`
}

type PreprocessConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	FFmpeg  string `mapstructure:"ffmpeg" yaml:"ffmpeg" validate:"required"`
}

type CaptureConfig struct {
	FFmpeg     string `mapstructure:"ffmpeg" yaml:"ffmpeg" validate:"required"`
	Format     string `mapstructure:"format" yaml:"format" validate:"required"` // ffmpeg input format: pulse, alsa, avfoundation...
	Device     string `mapstructure:"device" yaml:"device" validate:"required"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=8000,max=192000"`
	Channels   int    `mapstructure:"channels" yaml:"channels" validate:"min=1,max=2"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

// DefaultExtensions are the audio containers the engine is known to read.
var DefaultExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".aac", ".mp4", ".mov", ".avi"}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"storage.database":             "~/.local/share/jamscribe/jamscribe.db",
		"storage.recordings_directory": "~/Audio/JamScribe",
		"engine.command":               "whisper",
		"engine.args":                  []string{},
		"engine.model":                 "small",
		"engine.language":              "ja",
		"engine.timeout":               30 * time.Minute,
		"engine.max_concurrent":        2,
		"engine.model_cache":           "~/.cache/whisper",
		"preprocess.enabled":           true,
		"preprocess.ffmpeg":            "ffmpeg",
		"capture.ffmpeg":               "ffmpeg",
		"capture.format":               "pulse",
		"capture.device":               "default",
		"capture.sample_rate":          16000,
		"capture.channels":             1,
		"server.port":                  8080,
		"log.file":                     "",
		"log.max_size_mb":              10,
		"log.max_backups":              3,
		"log.max_age_days":             28,
		"supported_audio_extensions":   DefaultExtensions,
	}
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/jamscribe.yaml")
}

// Load reads configFile (if it exists) on top of the defaults, applies
// JAMSCRIBE_* environment overrides and validates the result. A missing
// file is not an error: the defaults are enough to run.
func Load(configFile string) (*Config, error) {
	v := newViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if _, err := os.Stat(configFile); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Storage.Database = expandPath(cfg.Storage.Database)
	cfg.Storage.RecordingsDirectory = expandPath(cfg.Storage.RecordingsDirectory)
	cfg.Engine.ModelCache = expandPath(cfg.Engine.ModelCache)
	cfg.Log.File = expandPath(cfg.Log.File)
	for i, ext := range cfg.SupportedAudioExtensions {
		cfg.SupportedAudioExtensions[i] = strings.ToLower(ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// only reachable through a broken JAMSCRIBE_* override
		panic(err)
	}
	return cfg
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// YAML renders the resolved configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		return fmt.Errorf("no config file specified")
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists", path)
	}

	v := newViper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out := make(map[string]interface{})
	for _, key := range v.AllKeys() {
		setNested(out, strings.Split(key, "."), v.Get(key))
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setNested(m map[string]interface{}, path []string, value interface{}) {
	if len(path) == 1 {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]interface{})
	if !ok {
		child = make(map[string]interface{})
		m[path[0]] = child
	}
	setNested(child, path[1:], value)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
