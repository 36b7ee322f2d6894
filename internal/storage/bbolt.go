package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("not found")

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	path   string
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) dashsync.db inside dataDir.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFileName)

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		logger.Warnw("Failed to open database on first attempt", "path", dbPath, "error", err)

		// A stale lock held by a crashed process: move the file aside and start fresh.
		if errors.Is(err, bolterrors.ErrTimeout) {
			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			logger.Infow("Database timeout detected, moving file aside", "backup", backupPath)

			if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
				logger.Warnw("Failed to create backup", "error", cpErr)
			}
			if rmErr := os.Remove(dbPath); rmErr != nil {
				logger.Warnw("Failed to remove locked database file", "error", rmErr)
			}

			db, err = bbolt.Open(dbPath, 0644, &bbolt.Options{
				Timeout: 2 * time.Second,
			})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	boltDB := &BoltDB{
		db:     db,
		path:   dbPath,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Path returns the database file location.
func (b *BoltDB) Path() string {
	return b.path
}

// initBuckets creates required buckets and sets up schema
func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{IdentityBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		metaBucket := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return metaBucket.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the current schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}

		versionBytes := bucket.Get([]byte(SchemaVersionKey))
		if versionBytes == nil {
			return nil
		}

		version = binary.LittleEndian.Uint64(versionBytes)
		return nil
	})

	return version, err
}

// Identity operations

// GetIdentity returns the stored identity record or ErrNotFound.
func (b *BoltDB) GetIdentity() (*IdentityRecord, error) {
	var record *IdentityRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(IdentityBucket)).Get([]byte(ClientIDKey))
		if data == nil {
			return ErrNotFound
		}

		record = &IdentityRecord{}
		return json.Unmarshal(data, record)
	})

	return record, err
}

// LoadOrCreateClientID returns the stored client id, calling generate and
// persisting its result only when none exists. The check and the write share
// one transaction.
func (b *BoltDB) LoadOrCreateClientID(generate func() string) (string, bool, error) {
	var (
		clientID string
		created  bool
	)

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(IdentityBucket))
		if data := bucket.Get([]byte(ClientIDKey)); data != nil {
			record := &IdentityRecord{}
			if err := json.Unmarshal(data, record); err != nil {
				return fmt.Errorf("failed to decode identity record: %w", err)
			}
			if record.ClientID != "" {
				clientID = record.ClientID
				return nil
			}
		}

		record := &IdentityRecord{
			ClientID: generate(),
			Created:  time.Now(),
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		clientID = record.ClientID
		created = true
		return bucket.Put([]byte(ClientIDKey), data)
	})
	if err != nil {
		return "", false, err
	}

	if created {
		b.logger.Debugw("Persisted new client identifier", "client_id", clientID)
	}
	return clientID, created, nil
}

// DeleteIdentity removes the stored client id.
func (b *BoltDB) DeleteIdentity() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(IdentityBucket)).Delete([]byte(ClientIDKey))
	})
}

// Generic operations

// Backup creates a backup of the database
func (b *BoltDB) Backup(destPath string) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(destPath, 0644)
	})
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// Ping verifies a read transaction can be opened.
func (b *BoltDB) Ping() error {
	return b.db.View(func(_ *bbolt.Tx) error {
		return nil
	})
}
