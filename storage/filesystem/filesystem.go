/*
	Package filesystem implements a store that keeps each value in its own
	file under a root directory.  Keys with "/" separators map to nested
	directories, matching the layout of chunked array stores on disk.
*/
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		zpipe.Errorf("Unable to make semver in filesystem engine: %v\n", err)
	}
	storage.RegisterEngine(Engine{"filesystem", "One file per key under a directory", ver})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a file-based store. The passed Config must contain "path" setting.
func (e Engine) NewStore(config zpipe.StoreConfig) (storage.Store, bool, error) {
	return e.newStore(config)
}

// GetTestConfig returns a configuration in a unique temporary directory.
func (e Engine) GetTestConfig() (zpipe.StoreConfig, error) {
	c := zpipe.Config{
		"path":    fmt.Sprintf("zpipe-test-filesystem-%x", uuid.NewV4().Bytes()),
		"testing": true,
	}
	return zpipe.StoreConfig{Config: c, Engine: e.name}, nil
}

func parseConfig(config zpipe.StoreConfig) (path string, testing bool, err error) {
	var found bool
	path, found, err = config.GetString("path")
	if err != nil {
		return
	}
	if !found {
		err = fmt.Errorf("%q must be specified for filesystem configuration", "path")
		return
	}
	if testing, _, err = config.GetBool("testing"); err != nil {
		return
	}
	if testing {
		path = filepath.Join(os.TempDir(), path)
	}
	return
}

func (e Engine) newStore(config zpipe.StoreConfig) (*fileStore, bool, error) {
	path, _, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zpipe.Infof("File store not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, false, err
		}
		created = true
	} else {
		zpipe.Debugf("Found file store at %s (err = %v)\n", path, err)
	}
	return &fileStore{path: path}, created, nil
}

type fileStore struct {
	path string
}

// ---- Store interface ------

func (s *fileStore) String() string {
	return fmt.Sprintf("file store @ %s", s.path)
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) filename(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("illegal key %q for file store", key)
	}
	return filepath.Join(s.path, filepath.FromSlash(clean)), nil
}

func (s *fileStore) GetRange(ctx context.Context, key string, r storage.ByteRange) ([]byte, error) {
	name, err := s.filename(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if os.IsNotExist(err) {
		return nil, storage.NotFound(key)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if r.IsFull() {
		return io.ReadAll(f)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	begin, end, err := r.Bounds(info.Size())
	if err != nil {
		return nil, err
	}
	buf := make([]byte, end-begin)
	if _, err := f.ReadAt(buf, begin); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s of %s: %w", r, key, err)
	}
	return buf, nil
}

// Put writes to a temporary file and renames it so readers never see a
// partial value.
func (s *fileStore) Put(ctx context.Context, key string, value []byte) error {
	name, err := s.filename(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-"+filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), name)
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	name, err := s.filename(key)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.path, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}
