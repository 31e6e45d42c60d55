package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	BaseURL     string `mapstructure:"BASE"`
	StorageRoot string `mapstructure:"STORAGE_ROOT"`
	TmpRoot     string `mapstructure:"TMP_ROOT"`

	Workers       int   `mapstructure:"WORKERS"`
	MaxUploadSize int64 `mapstructure:"MAX_UPLOAD_SIZE"`

	FFmpegBin      string        `mapstructure:"FFMPEG_BIN"`
	FFprobeBin     string        `mapstructure:"FFPROBE_BIN"`
	ToolTimeout    time.Duration `mapstructure:"TOOL_TIMEOUT"`
	EncodeArgs     string        `mapstructure:"ENCODE_ARGS"`
	UpscalerModels string        `mapstructure:"UPSCALER_MODELS_DIR"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
}

// stringToDurationHookFunc parses Go duration strings from config values.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes like "1GB" into int64s.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string; let other parsers have it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("STORAGE_ROOT", "./storage")
	vp.SetDefault("TMP_ROOT", "./tmp")
	vp.SetDefault("WORKERS", 2)
	vp.SetDefault("MAX_UPLOAD_SIZE", "1GB")
	vp.SetDefault("FFMPEG_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("TOOL_TIMEOUT", "30m")
	vp.SetDefault("ENCODE_ARGS", "")
	vp.SetDefault("UPSCALER_MODELS_DIR", "")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")

	vp.SetConfigName("lumina_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/lumina/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("LUMINA")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// InputDir is where uploads land before processing.
func (c *Config) InputDir() string {
	return filepath.Join(c.StorageRoot, "input")
}

// OutputDir holds finished results.
func (c *Config) OutputDir() string {
	return filepath.Join(c.StorageRoot, "output")
}

// FramesDir is the root for per-job video scratch directories.
func (c *Config) FramesDir() string {
	return filepath.Join(c.TmpRoot, "frames")
}

// EnsureDirs creates the storage layout.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.InputDir(), c.OutputDir(), c.FramesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
