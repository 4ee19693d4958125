package scene

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a scene file whenever it is written. Editors often
// replace files via rename, so the parent directory is watched and events
// are filtered by name.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	changes chan *Scene
	errors  chan error
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Watch starts watching path. A nil logger uses slog.Default().
func Watch(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch scene: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch scene: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch scene: %w", err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		logger:  logger,
		changes: make(chan *Scene, 1),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Changes delivers each successfully reloaded scene. Only the latest
// pending scene is kept if the consumer falls behind.
func (w *Watcher) Changes() <-chan *Scene { return w.changes }

// Errors delivers load and watcher failures.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			sc, err := Load(w.path)
			if err != nil {
				w.logger.Warn("scene reload failed", "path", w.path, "err", err)
				w.sendErr(err)
				continue
			}
			w.logger.Info("scene reloaded", "path", w.path, "objects", len(sc.Objects))
			w.sendScene(sc)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendErr(err)
		}
	}
}

func (w *Watcher) sendScene(sc *Scene) {
	for {
		select {
		case w.changes <- sc:
			return
		default:
		}
		// выбрасываем устаревшую сцену из очереди
		select {
		case <-w.changes:
		default:
		}
	}
}

func (w *Watcher) sendErr(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
