package scheduler

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the pool whenever path is written or created. The directory
// holding path is watched so editors that replace the file are seen. A
// reload that fails to parse keeps the previous scenarios. The returned
// function stops the watcher.
func (p *Pool) Watch(path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scheduler: watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("scheduler: watch %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("scheduler: watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if err := p.Load(abs); err != nil {
					log.Printf("scheduler: reload %s: %v", abs, err)
					continue
				}
				log.Printf("scheduler: reloaded %d scenarios from %s", p.Len(), abs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("scheduler: watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()
	log.Printf("scheduler: watching %s", abs)

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
