package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"sushiclicker.com/internal/persistence/backup"
	"sushiclicker.com/internal/persistence/indexdb"
	"sushiclicker.com/internal/persistence/store"
)

// backend bundles where saves live, who guards the slot locks and the
// optional history index.
type backend struct {
	store  store.Store
	locker *store.FileStore
	index  *indexdb.SQLiteIndex
	mirror *backup.Mirror
}

// Close drains the backup queue before closing the index.
func (b backend) Close() error {
	b.mirror.Close()
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// openBackend picks the save store. "file" keeps one blob per slot on disk and
// the sqlite index for history only; "sqlite" keeps the blobs in the index db
// too. Slot locks are lock files in both cases.
func openBackend(dataDir, kind string, disableDB bool) (backend, error) {
	fs, err := store.NewFileStore(filepath.Join(dataDir, "saves"))
	if err != nil {
		return backend{}, err
	}
	b := backend{store: fs, locker: fs}

	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "", "file":
		if disableDB {
			return b, nil
		}
	case "sqlite":
		if disableDB {
			return backend{}, fmt.Errorf("store backend sqlite needs the index db (drop -disable_db)")
		}
	default:
		return backend{}, fmt.Errorf("unsupported store backend: %s", kind)
	}

	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "sushi.sqlite"))
	if err != nil {
		return backend{}, err
	}
	b.index = idx
	if kind == "sqlite" {
		b.store = idx
	}
	return b, nil
}

// openMirror builds the off-site save mirror from SC_BACKUP_* env vars. It
// returns nil when no endpoint is configured.
func openMirror(logger *log.Logger) (*backup.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("SC_BACKUP_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	c, err := backup.NewClient(backup.ClientConfig{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("SC_BACKUP_BUCKET"),
		Region:          os.Getenv("SC_BACKUP_REGION"),
		AccessKeyID:     os.Getenv("SC_BACKUP_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SC_BACKUP_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return backup.NewMirror(c, envString("SC_BACKUP_PREFIX", "sushiclicker"), envInt("SC_BACKUP_WORKERS", 2), envInt("SC_BACKUP_QUEUE", 256), logger), nil
}
