package predictor

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce groups the model and encoder writes of one training run
// into a single reload.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the model whenever one of the artifact files is written or
// replaced, until ctx is done. It is a no-op unless the policy is watch.
// The parent directories are watched because artifacts are replaced by rename.
func (s *Service) Watch(ctx context.Context) error {
	if s.config.Reload != ReloadWatch {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := map[string]bool{
		filepath.Clean(s.config.ModelPath):   true,
		filepath.Clean(s.config.EncoderPath): true,
	}
	dirs := make(map[string]bool)
	for target := range targets {
		dirs[filepath.Dir(target)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			s.logger.Warn("artifact watcher error", zap.Error(err))
		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.logger.Error("reload failed, keeping previous model", zap.Error(err))
			}
		}
	}
}
