package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// Course is a course with its teaching staff and enrolled students
type Course struct {
	ID       int64   `yaml:"id"`
	Name     string  `yaml:"name"`
	Teachers []int64 `yaml:"teachers"`
	Students []int64 `yaml:"students"`
}

// directoryFile is the on-disk YAML layout
type directoryFile struct {
	Users   []Identity `yaml:"users"`
	Courses []Course   `yaml:"courses"`
}

// FileDirectory is a user and roster directory loaded from a YAML file.
// It is safe for concurrent use and can reload itself when the file changes.
type FileDirectory struct {
	path string

	mu      sync.RWMutex
	users   map[int64]Identity
	courses []Course
}

// LoadDirectory reads the directory file at path
func LoadDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the directory file; on error the previous contents are kept
func (d *FileDirectory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read directory file: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse directory file: %w", err)
	}

	users := make(map[int64]Identity, len(file.Users))
	for _, u := range file.Users {
		if u.UserID == 0 {
			return fmt.Errorf("directory user %q has no id", u.Username)
		}
		users[u.UserID] = u
	}

	d.mu.Lock()
	d.users = users
	d.courses = file.Courses
	d.mu.Unlock()

	return nil
}

// Lookup returns a copy of the directory entry for userID
func (d *FileDirectory) Lookup(userID int64) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return Identity{}, false
	}
	u.Roles = append([]Role(nil), u.Roles...)
	u.Capabilities = append([]string(nil), u.Capabilities...)
	return u, true
}

// StudentIDs returns the sorted, de-duplicated ids of students taught by
// teacherID, restricted to courseID unless it is 0.
func (d *FileDirectory) StudentIDs(ctx context.Context, teacherID, courseID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[int64]struct{})
	for _, c := range d.courses {
		if courseID != 0 && c.ID != courseID {
			continue
		}
		if !containsID(c.Teachers, teacherID) {
			continue
		}
		for _, s := range c.Students {
			seen[s] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Watch reloads the directory whenever the file is written or replaced,
// until ctx is cancelled.
func (d *FileDirectory) Watch(ctx context.Context, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the parent directory so editors that rename over the file are seen.
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", d.path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(d.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := d.Reload(); err != nil {
					logger.WithError(err).Warn("Keeping previous identity directory")
					continue
				}
				logger.WithField("path", d.path).Info("Identity directory reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Identity directory watcher error")
			}
		}
	}()

	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
