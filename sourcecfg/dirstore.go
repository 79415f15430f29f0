package sourcecfg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teranos/croplink/errors"
)

// DirStore reads source configs from a directory of YAML files, one config
// per file, as laid down by the deploy tool. Several files may carry
// versions of the same source; the highest version wins.
type DirStore struct {
	dir string
	log *zap.SugaredLogger
}

// NewDirStore creates a store over dir.
func NewDirStore(dir string, log *zap.SugaredLogger) *DirStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DirStore{dir: dir, log: log}
}

// ListEnabled implements Store.
func (s *DirStore) ListEnabled(ctx context.Context) ([]*SourceConfig, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return enabledOnly(all), nil
}

// LookupByID implements Store.
func (s *DirStore) LookupByID(ctx context.Context, sourceID string) (*SourceConfig, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfg := range all {
		if cfg.SourceID == sourceID {
			return cfg, nil
		}
	}
	return nil, errors.NewNotFoundError("source config %s", sourceID)
}

// LookupByContainer implements Store.
func (s *DirStore) LookupByContainer(ctx context.Context, name string) ([]*SourceConfig, error) {
	enabled, err := s.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return byContainer(enabled, name), nil
}

// load decodes every YAML file. Files that fail to decode are skipped with
// a warning so one bad deploy does not hide the other sources.
func (s *DirStore) load(ctx context.Context) ([]*SourceConfig, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read source config dir %s", s.dir)
	}

	var versions []*SourceConfig
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		var cfg SourceConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			s.log.Warnw("Skipping undecodable source config", "path", path, "error", err)
			continue
		}
		if cfg.SourceID == "" {
			cfg.SourceID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		versions = append(versions, &cfg)
	}
	return latest(versions), nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Watch calls onChange after YAML files in the directory change, debounced.
// It returns once the watcher is running; the watch ends with ctx.
func (s *DirStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create source config watcher")
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "failed to watch %s", s.dir)
	}

	go func() {
		defer watcher.Close()
		var (
			mu    sync.Mutex
			timer *time.Timer
		)
		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(200*time.Millisecond, func() {
					s.log.Infow("Source configs changed on disk", "dir", s.dir)
					onChange()
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warnw("Source config watcher error", "error", err)
			}
		}
	}()
	return nil
}
