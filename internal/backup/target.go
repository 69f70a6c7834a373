package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "curvedex-"
	fileSuffix = ".snap.zst"
	timeLayout = "20060102T150405.000000000Z"
)

// Info describes a stored snapshot.
type Info struct {
	Name    string
	Path    string
	Created time.Time
	Size    int64
}

// LocalTarget keeps snapshots as files in one directory.
type LocalTarget struct {
	dir string
	now func() time.Time
}

// NewLocalTarget creates a new local backup target
func NewLocalTarget(dir string) *LocalTarget {
	return &LocalTarget{dir: dir, now: time.Now}
}

// Dir returns the backup directory.
func (l *LocalTarget) Dir() string { return l.dir }

// Create writes a new snapshot file through write. The file only appears
// under its final name once write has succeeded.
func (l *LocalTarget) Create(write func(w io.Writer) (*Manifest, error)) (*Info, *Manifest, error) {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	created := l.now().UTC()
	name := filePrefix + created.Format(timeLayout) + fileSuffix
	path := filepath.Join(l.dir, name)

	tmp, err := os.CreateTemp(l.dir, ".partial-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	manifest, err := write(tmp)
	if err != nil {
		tmp.Close()
		return nil, nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, nil, err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return nil, nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, nil, fmt.Errorf("failed to finalise backup file: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	return &Info{Name: name, Path: path, Created: created, Size: stat.Size()}, manifest, nil
}

// List returns the stored snapshots, newest first. Files that do not follow
// the snapshot naming are ignored.
func (l *LocalTarget) List() ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		created, err := time.Parse(timeLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Name:    name,
			Path:    filepath.Join(l.dir, name),
			Created: created,
			Size:    info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Created.After(backups[j].Created)
	})
	return backups, nil
}

// Open opens a snapshot by name, or by path when name contains a separator.
func (l *LocalTarget) Open(name string) (io.ReadCloser, error) {
	path := name
	if !strings.ContainsRune(name, os.PathSeparator) {
		path = filepath.Join(l.dir, name)
	}
	return os.Open(path)
}

// Prune deletes all but the newest keep snapshots and returns the names it
// removed. keep <= 0 keeps everything.
func (l *LocalTarget) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	backups, err := l.List()
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", b.Name, err)
		}
		removed = append(removed, b.Name)
	}
	return removed, nil
}
