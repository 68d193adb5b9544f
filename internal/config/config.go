package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Log      LogConfig      `mapstructure:"log" validate:"required"`
	Sort     SortConfig     `mapstructure:"sort" validate:"required"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Dispatch DispatchConfig `mapstructure:"dispatch" validate:"required"`
	Server   ServerConfig   `mapstructure:"server" validate:"required"`

	// ConfigFile is the file Load read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// SortConfig contains settings for the external sorter and the file pool.
type SortConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	MaxLines   int    `mapstructure:"max_lines" validate:"required,gt=0"`
	MaxWorkers int    `mapstructure:"max_workers" validate:"required,gt=0"`
	Order      string `mapstructure:"order" validate:"required,oneof=bytewise casefold domain"`
	// MaxOpenChunks caps the chunk files merged at once.
	MaxOpenChunks int `mapstructure:"max_open_chunks" validate:"required,gte=2"`
	// TempDir holds chunk files; empty means the system temp root.
	TempDir       string   `mapstructure:"temp_dir"`
	Banner        []string `mapstructure:"banner"`
	ExcludedDirs  []string `mapstructure:"excluded_dirs"`
	ExcludedFiles []string `mapstructure:"excluded_files"`
}

// StoreConfig contains settings for the embedded task database.
type StoreConfig struct {
	Path        string        `mapstructure:"path" validate:"required"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" validate:"gte=0"`
	// StaleAfter is how long a task may stay TAKEN before free-stale resets it.
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"gt=0"`
}

// DispatchConfig contains settings for the task dispatcher.
type DispatchConfig struct {
	// WorkersCount of zero means one executor per available CPU.
	WorkersCount int `mapstructure:"workers_count" validate:"gte=0"`
	FilesPerPool int `mapstructure:"files_per_pool" validate:"required,gt=0"`
	QueueSize    int `mapstructure:"queue_size" validate:"required,gt=0"`
}

// ServerConfig contains settings for the read-only status API.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,gt=0,lt=65536"`
}
