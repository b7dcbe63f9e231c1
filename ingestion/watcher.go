package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch re-ingests documents under dir as they are created or modified.
// New subdirectories are picked up as they appear. Watch blocks until the
// context is canceled.
func (s *Service) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchRecursive(watcher, dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.logger.Info("watching for document changes", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, watcher, dir, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, root string, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watchRecursive(watcher, event.Name); err != nil {
				s.logger.Warn("watch new directory failed",
					zap.String("path", event.Name),
					zap.Error(err))
			}
			return
		}
	}

	if event.Op&fsnotify.Remove == fsnotify.Remove {
		// The index keeps the last known content of removed files.
		s.logger.Info("file removed", zap.String("path", event.Name))
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if DetectFormat(event.Name) == FormatUnknown {
		return
	}

	n, err := s.IngestFile(ctx, root, event.Name)
	if err != nil {
		s.logger.Warn("re-ingest failed",
			zap.String("path", event.Name),
			zap.Error(err))
		return
	}
	s.logger.Info("document re-ingested",
		zap.String("path", event.Name),
		zap.Int("chunks", n))
}

func watchRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
