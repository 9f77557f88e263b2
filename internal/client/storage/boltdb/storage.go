package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/syncerr"
)

var (
	// BoltDB bucket names
	bucketRecords       = []byte("records")
	bucketPending       = []byte("pending")
	bucketPendingIndex  = []byte("pending_index")
	bucketResolutionLog = []byte("resolution_log")
	bucketConflicts     = []byte("conflicts")
	bucketMetadata      = []byte("metadata")
	bucketIdentity      = []byte("identity")

	allBuckets = [][]byte{
		bucketRecords,
		bucketPending,
		bucketPendingIndex,
		bucketResolutionLog,
		bucketConflicts,
		bucketMetadata,
		bucketIdentity,
	}
)

// DefaultLockTimeout время ожидания файловой блокировки БД.
// Если файл занят другим процессом дольше, хранилище считается недоступным.
const DefaultLockTimeout = time.Second

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db *bbolt.DB
}

var _ storage.Store = (*Storage)(nil)

// Option настраивает открытие хранилища
type Option func(*bbolt.Options)

// WithLockTimeout задает время ожидания блокировки файла БД
func WithLockTimeout(d time.Duration) Option {
	return func(o *bbolt.Options) {
		o.Timeout = d
	}
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file.
// An unavailable file is reported as syncerr.StorageFailure.
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	boltOpts := &bbolt.Options{Timeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(boltOpts)
	}

	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, boltOpts)
	if err != nil {
		return nil, syncerr.Storage("open", fmt.Errorf("failed to open boltdb: %w", err))
	}

	s := &Storage{db: db}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, syncerr.Storage("open", fmt.Errorf("failed to initialize buckets: %w", err))
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// view и update выполняют транзакцию и приводят ошибки к таксономии:
// доменные sentinel-ошибки возвращаются как есть, остальное - StorageFailure.
func (s *Storage) view(op string, fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return syncerr.Storage(op, storage.ErrStorageClosed)
	}
	return wrapErr(op, s.db.View(fn))
}

func (s *Storage) update(op string, fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return syncerr.Storage(op, storage.ErrStorageClosed)
	}
	return wrapErr(op, s.db.Update(fn))
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		storage.ErrRecordNotFound,
		storage.ErrPendingNotFound,
		storage.ErrConflictNotFound,
		storage.ErrIdentityNotFound,
		storage.ErrUnsyncedRecord,
		storage.ErrStaleRecord,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return syncerr.Storage(op, err)
}

func bucket(tx *bbolt.Tx, name []byte) (*bbolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%s bucket not found", name)
	}
	return b, nil
}
