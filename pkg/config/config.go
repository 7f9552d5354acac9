package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	// Source is the local tree backing the mount, Mount is where it appears.
	Source string `yaml:"source"`
	Mount  string `yaml:"mount"`
	// Store selects the remote: "riak" or "memory" (for testing mounts).
	Store    string `yaml:"store"`
	RiakHost string `yaml:"riak_host"`
	RiakPort int    `yaml:"riak_port"`

	ContentPrefix   string `yaml:"content_prefix"`
	DirectoryPrefix string `yaml:"directory_prefix"`
	SetBucketType   string `yaml:"set_bucket_type"`
	DirectoryKey    string `yaml:"directory_key"`
	ContentType     string `yaml:"content_type"`

	DeleteLocal       bool `yaml:"delete_local"`
	MaintainDirectory bool `yaml:"maintain_directory"`
	ReadContent       bool `yaml:"read_content"`
	ReadDirectory     bool `yaml:"read_directory"`

	FileUID  uint32 `yaml:"file_uid"`
	FileGID  uint32 `yaml:"file_gid"`
	FileMode uint32 `yaml:"file_mode"`

	RemoteTimeout  time.Duration `yaml:"remote_timeout"`
	SerializePaths bool          `yaml:"serialize_paths"`
	AllowOther     bool          `yaml:"allow_other"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// StatusAddr enables the HTTP status server when set.
	StatusAddr string `yaml:"status_addr"`
	APIToken   string `yaml:"api_token"`

	// Hooks: directory with Lua scripts and default timeout for execution
	HooksDir     string        `yaml:"hooks_dir"`
	HooksTimeout time.Duration `yaml:"hooks_timeout"`
	// HooksLogFile: when set, Lua hooks log to this separate file; otherwise default logging is used
	HooksLogFile string `yaml:"hooks_log_file"`

	SeedWorkers int `yaml:"seed_workers"`

	// SourcePath is the path of the loaded YAML file (not serialized)
	SourcePath string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Store:             "riak",
		RiakHost:          "localhost",
		RiakPort:          8087,
		ContentPrefix:     "IMG_",
		DirectoryPrefix:   "IMGDIR_",
		SetBucketType:     "sets",
		DirectoryKey:      "directory",
		ContentType:       "application/octet-stream",
		MaintainDirectory: true,
		FileMode:          0o777,
		LogLevel:          "info",
		HooksTimeout:      2 * time.Second,
		SeedWorkers:       4,
	}
}

// FromFile reads YAML config into Config struct, applying defaults for missing fields.
func FromFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.SourcePath = path
	return cfg, nil
}

var (
	ErrNoSource     = errors.New("source directory is required")
	ErrUnknownStore = errors.New("store must be riak or memory")
)

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if c.Source == "" {
		return ErrNoSource
	}
	if c.Store != "riak" && c.Store != "memory" {
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}
	if c.RiakPort <= 0 || c.RiakPort > 65535 {
		return fmt.Errorf("riak_port out of range: %d", c.RiakPort)
	}
	if c.FileMode > 0o7777 {
		return fmt.Errorf("file_mode out of range: %#o", c.FileMode)
	}
	if c.SeedWorkers < 1 {
		c.SeedWorkers = 1
	}
	return nil
}
