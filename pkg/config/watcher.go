package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the config directory and invokes onChange with a freshly
// loaded snapshot whenever the config file is written. Events are debounced
// because editors produce bursts of writes. Returns a stop function.
func Watch(dir string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != "config.yaml" {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher: %v", err)
			case <-pending:
				pending = nil
				cfg, err := Load(filepath.Join(dir, "config.yaml"))
				if err != nil {
					log.Printf("config reload failed: %v", err)
					continue
				}
				log.Printf("config reloaded from %s", dir)
				onChange(cfg)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
