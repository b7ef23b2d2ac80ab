/*
	Package badger implements a store on the Badger embedded key-value
	database.  Values are stored whole; range reads slice the value copy.
*/
package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

const (
	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.
	DefaultSyncWrites = false

	// Values larger than this many bytes are kept in the value log.
	DefaultValueThreshold = 1024

	syncPeriod = 30 * time.Second
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		zpipe.Errorf("Unable to make semver in badger: %v\n", err)
	}
	storage.RegisterEngine(Engine{"badger", "Badger embedded key-value store", ver})
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

// NewStore returns a badger store. The passed Config must contain "path" string.
func (e Engine) NewStore(config zpipe.StoreConfig) (storage.Store, bool, error) {
	return e.newDB(config)
}

// GetTestConfig returns a configuration for a throwaway database.
func (e Engine) GetTestConfig() (zpipe.StoreConfig, error) {
	c := zpipe.Config{
		"path":    fmt.Sprintf("zpipe-test-badger-%x", uuid.NewV4().Bytes()),
		"testing": true,
	}
	return zpipe.StoreConfig{Config: c, Engine: e.name}, nil
}

func parseConfig(config zpipe.StoreConfig) (path string, testing bool, syncWrites bool, err error) {
	var found bool
	path, found, err = config.GetString("path")
	if err != nil {
		return
	}
	if !found {
		err = fmt.Errorf("%q must be specified for badger configuration", "path")
		return
	}
	if testing, _, err = config.GetBool("testing"); err != nil {
		return
	}
	if testing {
		path = filepath.Join(os.TempDir(), path)
	}
	syncWrites, found, err = config.GetBool("sync_writes")
	if !found {
		syncWrites = DefaultSyncWrites
	}
	return
}

// badgerLogger routes badger's messages through the zpipe logger, demoting
// its chatty info messages to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { zpipe.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { zpipe.Warningf(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { zpipe.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   {}

// newDB returns a Badger store, creating one at path if it doesn't exist.
func (e Engine) newDB(config zpipe.StoreConfig) (*BadgerDB, bool, error) {
	path, _, syncWrites, err := parseConfig(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zpipe.Infof("Database not already at path (%s). Creating directory...\n", path)
		created = true
		if err := os.MkdirAll(path, 0744); err != nil {
			return nil, true, fmt.Errorf("can't make directory at %s: %v", path, err)
		}
	}

	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithNumVersionsToKeep(1).
		WithSyncWrites(syncWrites).
		WithValueThreshold(DefaultValueThreshold)

	bdp, err := badger.Open(opts)
	if err != nil {
		return nil, false, err
	}
	db := &BadgerDB{
		directory:  path,
		bdp:        bdp,
		stopSyncCh: make(chan struct{}),
	}
	if !syncWrites {
		go db.syncPeriodically()
	}
	return db, created, nil
}

// BadgerDB is a store backed by a Badger database.
type BadgerDB struct {
	directory  string
	bdp        *badger.DB
	stopSyncCh chan struct{}
}

func (db *BadgerDB) String() string {
	return fmt.Sprintf("badger @ %s", db.directory)
}

// Periodically sync to prevent too many writes from being buffered
// if the process crashes.
func (db *BadgerDB) syncPeriodically() {
	ticker := time.NewTicker(syncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-db.stopSyncCh:
			return
		case <-ticker.C:
			if err := db.bdp.Sync(); err != nil {
				zpipe.Errorf("badger sync @ %s: %v\n", db.directory, err)
			}
		}
	}
}

// Close closes the database.
func (db *BadgerDB) Close() error {
	if db == nil || db.bdp == nil {
		return nil
	}
	close(db.stopSyncCh)
	err := db.bdp.Close()
	db.bdp = nil
	zpipe.Infof("Closed Badger DB @ %s\n", db.directory)
	return err
}

func (db *BadgerDB) GetRange(ctx context.Context, key string, r storage.ByteRange) ([]byte, error) {
	if db.bdp == nil {
		return nil, fmt.Errorf("can't call GetRange on closed %s", db)
	}
	var value []byte
	err := db.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return storage.NotFound(key)
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.Slice(value)
}

func (db *BadgerDB) Put(ctx context.Context, key string, value []byte) error {
	if db.bdp == nil {
		return fmt.Errorf("can't call Put on closed %s", db)
	}
	return db.bdp.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (db *BadgerDB) Delete(ctx context.Context, key string) error {
	if db.bdp == nil {
		return fmt.Errorf("can't call Delete on closed %s", db)
	}
	return db.bdp.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (db *BadgerDB) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := db.bdp.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// Destroy closes the store and removes its directory.
func (db *BadgerDB) Destroy() error {
	if err := db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(db.directory)
}
