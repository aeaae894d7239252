package storage

import (
	iface "FireDetServer/interface"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const OutputPrefix = "output_"

// AllowedExt lists the upload extensions gocv can decode and encode.
var AllowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Retention bounds the output directory. Zero disables a rule. An upload and
// its output_ rendition count as one entry and are removed together.
type Retention struct {
	MaxAge   time.Duration
	MaxFiles int
}

// Store keeps uploads and their annotated outputs in one flat directory.
// Uploading the same name twice overwrites both files.
type Store struct {
	dir       string
	retention Retention
}

func NewStore(dir string, retention Retention) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(iface.ErrIO, "create output dir %s: %v", dir, err)
	}
	return &Store{dir: dir, retention: retention}, nil
}

func (s *Store) Dir() string { return s.dir }

// Sanitize reduces a client supplied filename to a safe base name. Names
// carrying a directory part or an unsupported extension are rejected.
func Sanitize(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Wrap(iface.ErrInvalidInput, "empty filename")
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", errors.Wrapf(iface.ErrInvalidInput, "invalid filename %q", name)
	}
	if name == "." || strings.HasPrefix(name, ".") {
		return "", errors.Wrapf(iface.ErrInvalidInput, "invalid filename %q", name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !AllowedExt[ext] {
		return "", errors.Wrapf(iface.ErrInvalidInput, "unsupported file extension %q", ext)
	}
	return name, nil
}

// SaveUpload writes r verbatim to the directory under name and returns its path.
func (s *Store) SaveUpload(name string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(iface.ErrIO, "create %s: %v", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(iface.ErrIO, "write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(iface.ErrIO, "close %s: %v", path, err)
	}
	return path, nil
}

// OutputPath is where the annotated rendition of name lives.
func (s *Store) OutputPath(name string) string {
	return filepath.Join(s.dir, OutputPrefix+name)
}

// entry is an upload together with its annotated output, whichever of the
// two exist.
type entry struct {
	paths   []string
	modTime time.Time
}

// entryKey maps both files of a pair to the upload name.
func entryKey(name string) string {
	if trimmed, ok := strings.CutPrefix(name, OutputPrefix); ok && trimmed != "" {
		return trimmed
	}
	return name
}

// Prune applies the retention policy as of now and returns how many files
// were removed. An entry's age is that of its newest file.
func (s *Store) Prune(now time.Time) (int, error) {
	if s.retention.MaxAge <= 0 && s.retention.MaxFiles <= 0 {
		return 0, nil
	}
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.Wrapf(iface.ErrIO, "read %s: %v", s.dir, err)
	}

	byKey := make(map[string]*entry)
	var entries []*entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		key := entryKey(de.Name())
		e, ok := byKey[key]
		if !ok {
			e = &entry{}
			byKey[key] = e
			entries = append(entries, e)
		}
		e.paths = append(e.paths, filepath.Join(s.dir, de.Name()))
		if info.ModTime().After(e.modTime) {
			e.modTime = info.ModTime()
		}
	}
	// newest first
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].modTime.After(entries[j].modTime) })

	removed := 0
	var firstErr error
	for i, e := range entries {
		expired := s.retention.MaxAge > 0 && now.Sub(e.modTime) > s.retention.MaxAge
		overflow := s.retention.MaxFiles > 0 && i >= s.retention.MaxFiles
		if !expired && !overflow {
			continue
		}
		for _, path := range e.paths {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				if firstErr == nil {
					firstErr = errors.Wrapf(iface.ErrIO, "remove %s: %v", path, err)
				}
				continue
			}
			removed++
		}
	}
	return removed, firstErr
}
