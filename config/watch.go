// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/go-core-stack/benji/errors"
)

// debounce interval for collapsing the event bursts editors and
// atomic-rename writers produce into one reload
const watchDebounce = 200 * time.Millisecond

// Watch reloads the config file whenever it changes, invoking fn with
// every successfully loaded and validated new config. Invalid interim
// states are logged and skipped. The watch ends with ctx.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(errors.Unknown, "failed to create config watcher: %s", err)
	}

	// watch the directory, not the file: atomic writers replace the
	// file and the watch would die with the old inode
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return errors.Wrapf(errors.Unknown, "failed to watch config directory: %s", err)
	}

	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(watchDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %s", err)
			case <-pending:
				pending = nil
				config, err := Load(path)
				if err != nil {
					log.Printf("ignoring config reload: %s", err)
					continue
				}
				fn(config)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
