// Package sqlstore implements store.Backend on a relational database through
// gorm. Documents are stored as BSON bodies in one table; unique indexes are
// enforced by a key table whose primary key is (collection, index, key hash).
// Filtering runs in process over the collection's documents.
package sqlstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
	"github.com/shinyyama/messaging-backend/internal/store/docset"
	"go.mongodb.org/mongo-driver/bson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const primaryIndex = "_id_"

type documentRow struct {
	Collection string `gorm:"primaryKey;size:64"`
	ID         string `gorm:"primaryKey;size:64"`
	Body       []byte `gorm:"type:longblob;not null"`
}

func (documentRow) TableName() string {
	return "documents"
}

type keyRow struct {
	Collection string `gorm:"primaryKey;size:64"`
	IndexName  string `gorm:"primaryKey;size:64"`
	KeyHash    string `gorm:"primaryKey;size:64"`
	DocumentID string `gorm:"size:64;not null;index"`
}

func (keyRow) TableName() string {
	return "document_keys"
}

type Store struct {
	db *gorm.DB

	mu      sync.RWMutex
	indexes map[string][]store.UniqueIndex
}

// New migrates the document tables on db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&documentRow{}, &keyRow{}); err != nil {
		return nil, fmt.Errorf("migrate document tables: %w", err)
	}
	return &Store{db: db, indexes: make(map[string][]store.UniqueIndex)}, nil
}

type txKey struct{}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *Store) EnsureIndexes(ctx context.Context, collection string, indexes []store.UniqueIndex) error {
	s.mu.Lock()
	s.indexes[collection] = append([]store.UniqueIndex(nil), indexes...)
	s.mu.Unlock()
	return nil
}

func (s *Store) uniqueIndexes(collection string) []store.UniqueIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[collection]
}

func (s *Store) load(db *gorm.DB, collection string, lock bool) ([]store.Document, error) {
	var rows []documentRow
	q := db.Where("collection = ?", collection).Order("id")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]store.Document, len(rows))
	for i, r := range rows {
		var d bson.M
		if err := bson.Unmarshal(r.Body, &d); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, r.ID, err)
		}
		docs[i] = store.Document(d)
	}
	return docs, nil
}

func (s *Store) Find(ctx context.Context, collection string, where query.Predicate, opts store.FindOptions) ([]store.Document, error) {
	docs, err := s.load(s.conn(ctx), collection, false)
	if err != nil {
		return nil, err
	}
	return docset.Find(docs, where, opts), nil
}

func (s *Store) Count(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	docs, err := s.load(s.conn(ctx), collection, false)
	if err != nil {
		return 0, err
	}
	return int64(len(docset.Filter(docs, where))), nil
}

func (s *Store) Insert(ctx context.Context, collection string, docs ...store.Document) error {
	indexes := s.uniqueIndexes(collection)
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range docs {
			id := docID(d)
			body, err := bson.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", collection, id, err)
			}
			if err := tx.Create(&documentRow{Collection: collection, ID: id, Body: body}).Error; err != nil {
				return writeError(collection, primaryIndex, err)
			}
			if err := insertKeys(tx, collection, id, d, indexes); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdateMany(ctx context.Context, collection string, where query.Predicate, u store.Update, limit int64) (int64, error) {
	indexes := s.uniqueIndexes(collection)
	var n int64
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		docs, err := s.load(tx, collection, true)
		if err != nil {
			return err
		}
		targets := docset.Targets(docs, where, limit)
		for _, t := range targets {
			next, err := docset.Apply(t, u)
			if err != nil {
				return fmt.Errorf("update %s: %w", collection, err)
			}
			id := docID(t)
			body, err := bson.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", collection, id, err)
			}
			if err := tx.Model(&documentRow{}).
				Where("collection = ? AND id = ?", collection, id).
				Update("body", body).Error; err != nil {
				return err
			}
			if err := tx.Where("collection = ? AND document_id = ?", collection, id).Delete(&keyRow{}).Error; err != nil {
				return err
			}
			if err := insertKeys(tx, collection, id, next, indexes); err != nil {
				return err
			}
		}
		n = int64(len(targets))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, where query.Predicate, limit int64) (int64, error) {
	var n int64
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		docs, err := s.load(tx, collection, true)
		if err != nil {
			return err
		}
		targets := docset.Targets(docs, where, limit)
		if len(targets) == 0 {
			return nil
		}
		ids := make([]string, len(targets))
		for i, t := range targets {
			ids[i] = docID(t)
		}
		if err := tx.Where("collection = ? AND document_id IN ?", collection, ids).Delete(&keyRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("collection = ? AND id IN ?", collection, ids).Delete(&documentRow{})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) FindRaw(ctx context.Context, collection string, cmd store.RawFind) ([]bson.M, error) {
	docs, err := s.load(s.conn(ctx), collection, false)
	if err != nil {
		return nil, err
	}
	return docset.RawFind(docs, cmd)
}

func (s *Store) AggregateRaw(ctx context.Context, collection string, cmd store.RawAggregate) ([]bson.M, error) {
	docs, err := s.load(s.conn(ctx), collection, false)
	if err != nil {
		return nil, err
	}
	return docset.Pipeline(docs, cmd)
}

// WithTransaction runs fn in a database transaction. Calls made with a
// context that already carries one join it.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func insertKeys(tx *gorm.DB, collection, id string, doc store.Document, indexes []store.UniqueIndex) error {
	for _, idx := range indexes {
		row := keyRow{Collection: collection, IndexName: idx.Name, KeyHash: keyHash(doc, idx), DocumentID: id}
		if err := tx.Create(&row).Error; err != nil {
			return writeError(collection, idx.Name, err)
		}
	}
	return nil
}

func keyHash(doc store.Document, idx store.UniqueIndex) string {
	sum := sha256.Sum256([]byte(docset.KeyOf(doc, idx)))
	return hex.EncodeToString(sum[:])
}

func docID(d store.Document) string {
	return fmt.Sprint(query.Normalize(d[store.IDField]))
}

func writeError(collection, index string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &store.UniqueViolationError{Collection: collection, Index: index, Err: err}
	}
	return err
}
