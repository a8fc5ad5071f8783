package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/sidecar/internal/logger"
	"github.com/loykin/sidecar/internal/paths"
	"github.com/loykin/sidecar/internal/registry"
	"github.com/loykin/sidecar/internal/supervisor"
)

// EnvPrefix prefixes environment overrides, e.g. SIDECAR_SIDECAR_PORT=4000.
const EnvPrefix = "SIDECAR"

// FileConfig represents the TOML configuration.
type FileConfig struct {
	Identifier string        `toml:"identifier" mapstructure:"identifier"`
	DataDir    string        `toml:"data_dir" mapstructure:"data_dir"`
	Sidecar    SidecarConfig `toml:"sidecar" mapstructure:"sidecar"`
	Log        LogConfig     `toml:"log" mapstructure:"log"`
	History    HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type SidecarConfig struct {
	Name         string       `toml:"name" mapstructure:"name"`
	BinDir       string       `toml:"bin_dir" mapstructure:"bin_dir"`
	Port         int          `toml:"port" mapstructure:"port"`
	DatabaseFile string       `toml:"database_file" mapstructure:"database_file"`
	Secret       string       `toml:"secret" mapstructure:"secret"`
	Env          []string     `toml:"env" mapstructure:"env"`
	EnvFiles     []string     `toml:"env_files" mapstructure:"env_files"`
	Output       OutputConfig `toml:"output" mapstructure:"output"`
}

// OutputConfig enables capture of the backend's raw output. A relative Dir is
// placed under the storage location.
type OutputConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistoryConfig selects the lifecycle history store; an empty DSN disables it.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig enables the local status/metrics endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("identifier", paths.DefaultIdentifier)
	v.SetDefault("data_dir", "")
	v.SetDefault("sidecar.name", supervisor.DefaultName)
	v.SetDefault("sidecar.bin_dir", "")
	v.SetDefault("sidecar.port", supervisor.DefaultPort)
	v.SetDefault("sidecar.database_file", paths.DefaultDatabaseFile)
	v.SetDefault("sidecar.secret", "")
	v.SetDefault("sidecar.env", []string{})
	v.SetDefault("sidecar.env_files", []string{})
	v.SetDefault("sidecar.output.dir", "")
	v.SetDefault("sidecar.output.max_size_mb", 0)
	v.SetDefault("sidecar.output.max_backups", 0)
	v.SetDefault("sidecar.output.max_age_days", 0)
	v.SetDefault("sidecar.output.compress", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.listen", "")
}

// Load reads the TOML file at path (optional) on top of defaults, then applies
// SIDECAR_* environment overrides.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		base := filepath.Dir(filepath.Clean(path))
		for i, f := range fc.Sidecar.EnvFiles {
			if f != "" && !filepath.IsAbs(f) {
				fc.Sidecar.EnvFiles[i] = filepath.Join(base, f)
			}
		}
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks values that would otherwise only fail at launch time.
func (fc *FileConfig) Validate() error {
	var errs []error
	if fc.Sidecar.Port < 1 || fc.Sidecar.Port > 65535 {
		errs = append(errs, fmt.Errorf("sidecar.port %d out of range", fc.Sidecar.Port))
	}
	if strings.ContainsAny(fc.Sidecar.DatabaseFile, `/\`) {
		errs = append(errs, fmt.Errorf("sidecar.database_file %q must be a file name", fc.Sidecar.DatabaseFile))
	}
	if strings.ContainsAny(fc.Identifier, `/\`) {
		errs = append(errs, fmt.Errorf("identifier %q must not contain path separators", fc.Identifier))
	}
	if _, err := logger.ParseLevel(fc.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Supervisor maps the file configuration onto a launch configuration.
func (fc *FileConfig) Supervisor() supervisor.Config {
	return supervisor.Config{
		Name:         fc.Sidecar.Name,
		Registry:     registry.Registry{Dir: fc.Sidecar.BinDir},
		Storage:      paths.Resolver{Identifier: fc.Identifier, Root: fc.DataDir},
		DatabaseFile: fc.Sidecar.DatabaseFile,
		Port:         fc.Sidecar.Port,
		Secret:       fc.Sidecar.Secret,
		Env:          fc.Sidecar.Env,
		EnvFiles:     fc.Sidecar.EnvFiles,
		Output: logger.OutputConfig{
			Dir:        fc.Sidecar.Output.Dir,
			MaxSizeMB:  fc.Sidecar.Output.MaxSizeMB,
			MaxBackups: fc.Sidecar.Output.MaxBackups,
			MaxAgeDays: fc.Sidecar.Output.MaxAgeDays,
			Compress:   fc.Sidecar.Output.Compress,
		},
	}
}

// Logger maps the [log] section onto logger.Config.
func (fc *FileConfig) Logger() logger.Config {
	return logger.Config{
		Level:  fc.Log.Level,
		Format: fc.Log.Format,
		File: logger.FileConfig{
			Path:       fc.Log.File,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		},
	}
}
