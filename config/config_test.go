// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-core-stack/benji/errors"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "benji.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %s", err)
	}
	return path
}

func Test_LoadDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[storage]
root = "/var/lib/benji/data"
`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	if config.ProcessName != "benji" {
		t.Errorf("process name: got %q want benji", config.ProcessName)
	}
	if config.BlockSize != 4*1024*1024 {
		t.Errorf("block size: got %d want %d", config.BlockSize, 4*1024*1024)
	}
	if config.HashFunction != "sha512" {
		t.Errorf("hash function: got %q want sha512", config.HashFunction)
	}
	if config.SimultaneousReads != 3 || config.SimultaneousWrites != 3 {
		t.Errorf("simultaneous: got %d/%d want 3/3", config.SimultaneousReads, config.SimultaneousWrites)
	}
	if config.Throttle != 0 {
		t.Errorf("throttle: got %d want 0", config.Throttle)
	}
	if config.DatabaseName() != "benji" {
		t.Errorf("database name: got %q want benji", config.DatabaseName())
	}
}

func Test_LoadFullConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
process_name = "benji-backup"
block_size = 65536
hash_function = "blake2b,digest_size=32"
simultaneous_reads = 8
simultaneous_writes = 4
throttle = 1048576

[storage]
root = "/srv/backup"
bandwidth = 524288
encryption_password = "secret"
encryption_salt = "pepper"

[database]
host = "db.example.com"
port = "27018"
username = "file-user"
password = "file-pass"
name = "backups"
`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	if config.BlockSize != 65536 || config.SimultaneousReads != 8 {
		t.Errorf("unexpected parse result: %+v", config)
	}
	if config.Storage.Bandwidth != 524288 {
		t.Errorf("storage bandwidth: got %d want 524288", config.Storage.Bandwidth)
	}
	mc := config.MongoConfig()
	if mc.Host != "db.example.com" || mc.Port != "27018" || mc.Username != "file-user" {
		t.Errorf("unexpected mongo config: %+v", mc)
	}
	if config.DatabaseName() != "backups" {
		t.Errorf("database name: got %q want backups", config.DatabaseName())
	}
}

func Test_EnvCredentialOverride(t *testing.T) {
	t.Setenv("BENJI_DATABASE_USERNAME", "env-user")
	t.Setenv("BENJI_DATABASE_PASSWORD", "env-pass")
	path := writeConfig(t, t.TempDir(), `
[storage]
root = "/srv/backup"

[database]
username = "file-user"
password = "file-pass"
`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	if config.Database.Username != "env-user" || config.Database.Password != "env-pass" {
		t.Errorf("environment override not applied: %s/%s", config.Database.Username, config.Database.Password)
	}
}

func Test_ValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Missing_Root", ``},
		{"Bad_Hash", "hash_function = \"md6\"\n[storage]\nroot = \"/srv\"\n"},
		{"Zero_Reads", "simultaneous_reads = 0\n[storage]\nroot = \"/srv\"\n"},
		{"Zero_Writes", "simultaneous_writes = -1\n[storage]\nroot = \"/srv\"\n"},
		{"Negative_Throttle", "throttle = -1\n[storage]\nroot = \"/srv\"\n"},
		{"Password_Without_Salt", "[storage]\nroot = \"/srv\"\nencryption_password = \"x\"\n"},
		{"Unknown_Key", "no_such_option = true\n[storage]\nroot = \"/srv\"\n"},
		{"Bad_Process_Name", "process_name = \".hidden\"\n[storage]\nroot = \"/srv\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected load to fail")
			}
			if !errors.IsInvalidArgument(err) {
				t.Fatalf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func Test_WatchReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
block_size = 65536
[storage]
root = "/srv/backup"
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *Config, 4)
	if err := Watch(ctx, path, func(c *Config) {
		updates <- c
	}); err != nil {
		t.Fatalf("failed to start watch: %s", err)
	}

	// let the watcher settle before touching the file
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, dir, `
block_size = 131072
[storage]
root = "/srv/backup"
`)

	select {
	case config := <-updates:
		if config.BlockSize != 131072 {
			t.Fatalf("reloaded block size: got %d want 131072", config.BlockSize)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for config reload")
	}

	// an invalid interim state must be skipped, then the next valid
	// state delivered
	writeConfig(t, dir, "simultaneous_reads = 0\n[storage]\nroot = \"/srv\"\n")
	time.Sleep(300 * time.Millisecond)
	writeConfig(t, dir, "block_size = 262144\n[storage]\nroot = \"/srv/backup\"\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case config := <-updates:
			if config.BlockSize == 262144 {
				return
			}
			// stale debounced reload of an earlier state
		case <-deadline:
			t.Fatalf("timed out waiting for recovery reload")
		}
	}
}
