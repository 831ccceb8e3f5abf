// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package config loads and validates the backup engine configuration
// from TOML, with environment overrides for database credentials.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/go-core-stack/benji/db"
	"github.com/go-core-stack/benji/digest"
	"github.com/go-core-stack/benji/errors"
	"github.com/go-core-stack/benji/utils"
)

const (
	defaultProcessName  = "benji"
	defaultBlockSize    = 4 * 1024 * 1024
	defaultHashFunction = "sha512"
	defaultSimultaneous = 3
	defaultDatabase     = "benji"

	// environment overrides for database credentials, keeps secrets
	// out of the config file
	envDatabaseUsername = "BENJI_DATABASE_USERNAME"
	envDatabasePassword = "BENJI_DATABASE_PASSWORD"
)

// StorageConfig configures the block payload backend.
type StorageConfig struct {
	Root               string `toml:"root"`
	Bandwidth          int64  `toml:"bandwidth"`
	EncryptionPassword string `toml:"encryption_password"`
	EncryptionSalt     string `toml:"encryption_salt"`
}

// DatabaseConfig configures the metadata store connection.
type DatabaseConfig struct {
	Uri      string `toml:"uri"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
}

// Config is the full engine configuration.
type Config struct {
	ProcessName        string         `toml:"process_name"`
	BlockSize          uint32         `toml:"block_size"`
	HashFunction       string         `toml:"hash_function"`
	SimultaneousReads  int            `toml:"simultaneous_reads"`
	SimultaneousWrites int            `toml:"simultaneous_writes"`
	Throttle           int64          `toml:"throttle"`
	Storage            StorageConfig  `toml:"storage"`
	Database           DatabaseConfig `toml:"database"`
}

// Default returns the configuration with all defaults applied and no
// storage or database endpoints set.
func Default() *Config {
	return &Config{
		ProcessName:        defaultProcessName,
		BlockSize:          defaultBlockSize,
		HashFunction:       defaultHashFunction,
		SimultaneousReads:  defaultSimultaneous,
		SimultaneousWrites: defaultSimultaneous,
	}
}

// Load reads the TOML file at path over the defaults, applies the
// environment credential overrides and validates the result.
func Load(path string) (*Config, error) {
	config := Default()
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrapf(errors.InvalidArgument, "failed to parse config %s: %s", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		return nil, errors.Wrapf(errors.InvalidArgument, "unknown config key %s", undecoded[0].String())
	}
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if user := os.Getenv(envDatabaseUsername); user != "" {
		c.Database.Username = user
	}
	if pass := os.Getenv(envDatabasePassword); pass != "" {
		c.Database.Password = pass
	}
}

// Validate checks the configuration for consistency, filling derivable
// defaults in place.
func (c *Config) Validate() error {
	if c.ProcessName == "" {
		c.ProcessName = defaultProcessName
	}
	if !utils.IsValidName(c.ProcessName) {
		return errors.Wrapf(errors.InvalidArgument, "invalid process name %q", c.ProcessName)
	}
	if c.BlockSize == 0 {
		return errors.Wrap(errors.InvalidArgument, "block size must be non zero")
	}
	if _, err := digest.Resolve(c.HashFunction); err != nil {
		return err
	}
	if c.SimultaneousReads < 1 {
		return errors.Wrapf(errors.InvalidArgument, "simultaneous reads must be >= 1, got %d", c.SimultaneousReads)
	}
	if c.SimultaneousWrites < 1 {
		return errors.Wrapf(errors.InvalidArgument, "simultaneous writes must be >= 1, got %d", c.SimultaneousWrites)
	}
	if c.Throttle < 0 {
		return errors.Wrap(errors.InvalidArgument, "throttle must not be negative")
	}
	if c.Storage.Root == "" {
		return errors.Wrap(errors.InvalidArgument, "storage root not configured")
	}
	if c.Storage.Bandwidth < 0 {
		return errors.Wrap(errors.InvalidArgument, "storage bandwidth must not be negative")
	}
	if c.Storage.EncryptionPassword != "" && c.Storage.EncryptionSalt == "" {
		return errors.Wrap(errors.InvalidArgument, "encryption password set without a salt")
	}
	return nil
}

// MongoConfig maps the database section onto the store client config.
func (c *Config) MongoConfig() *db.MongoConfig {
	return &db.MongoConfig{
		Uri:      c.Database.Uri,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		Username: c.Database.Username,
		Password: c.Database.Password,
	}
}

// DatabaseName returns the configured metadata database name.
func (c *Config) DatabaseName() string {
	if c.Database.Name == "" {
		return defaultDatabase
	}
	return c.Database.Name
}
