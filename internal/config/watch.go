package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchFile watches path for changes and republishes the RCU snapshot
// whenever the file is rewritten, matching the teacher's internal/watcher
// hot-reload convention. The returned watcher must be closed by the caller
// on shutdown.
func WatchFile(path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if _, err = LoadFromFile(path); err != nil {
					log.WithError(err).Warn("config: failed to reload after file change")
					continue
				}
				log.Info("config: reloaded after file change")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watcher error")
			}
		}
	}()

	return watcher, nil
}
