// Package roster supplies the team members a check runs over: a fixed
// in-memory list, or a YAML file that is reloaded when it changes.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
)

// Static is a fixed roster.
type Static []model.TeamMember

func (s Static) Members(context.Context) ([]model.TeamMember, error) {
	return slices.Clone(s), nil
}

// document is the roster file layout:
//
//	members:
//	  - name: Maria Lopez
//	    email: maria@example.com
//	    role: Engineer
type document struct {
	Members []model.TeamMember `yaml:"members"`
}

// Parse decodes and validates a roster document.
func Parse(data []byte) ([]model.TeamMember, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if err := Validate(doc.Members); err != nil {
		return nil, err
	}
	return doc.Members, nil
}

// Validate requires a name and a unique calendar identity per member.
func Validate(members []model.TeamMember) error {
	seen := make(map[string]int, len(members))
	var errs []error
	for i, m := range members {
		if strings.TrimSpace(m.Name) == "" {
			errs = append(errs, fmt.Errorf("member %d: name is empty", i+1))
		}
		id := strings.ToLower(strings.TrimSpace(m.CalendarID))
		if id == "" {
			errs = append(errs, fmt.Errorf("member %d: email is empty", i+1))
			continue
		}
		if j, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("member %d: email %s duplicates member %d", i+1, m.CalendarID, j))
			continue
		}
		seen[id] = i + 1
	}
	return errors.Join(errs...)
}

// Roles returns the distinct roles in first-seen order.
func Roles(members []model.TeamMember) []string {
	var roles []string
	for _, m := range members {
		if m.Role != "" && !slices.Contains(roles, m.Role) {
			roles = append(roles, m.Role)
		}
	}
	return roles
}

// File is a roster backed by a YAML file. The last successfully loaded
// member list is served until the next good reload.
type File struct {
	path string

	mu      sync.RWMutex
	members []model.TeamMember
}

// Open loads path once.
func Open(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Path() string { return f.path }

// Reload re-reads the file. On error the previous list stays active.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	members, err := Parse(data)
	if err != nil {
		return fmt.Errorf("roster %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.members = members
	f.mu.Unlock()
	return nil
}

func (f *File) Members(context.Context) ([]model.TeamMember, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.members), nil
}

// Watch reloads the roster whenever the file is written or replaced and
// calls onChange (if non-nil) with the new list. The parent directory is
// watched so atomic saves (write temp, rename) are seen. Watch blocks
// until ctx is cancelled.
func (f *File) Watch(ctx context.Context, onChange func([]model.TeamMember)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)
	appLog.Info("roster: watching for changes", "path", f.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				appLog.Error("roster: reload failed, keeping previous roster", err, "path", f.path)
				continue
			}
			members, _ := f.Members(ctx)
			appLog.Info("roster: reloaded", "path", f.path, "members", len(members))
			if onChange != nil {
				onChange(members)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("roster: watcher error", err)
		}
	}
}
