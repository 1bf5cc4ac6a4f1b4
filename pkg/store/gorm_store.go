package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51934417

// GormStore implements Backend over a Postgres jsonb table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// containment and key-existence lookups
		if err := tx.Exec(`CREATE INDEX IF NOT EXISTS documents_data_gin ON documents USING GIN (data)`).Error; err != nil {
			return fmt.Errorf("create data index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened handle without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Set creates or replaces a document.
func (s *GormStore) Set(ctx context.Context, collection, id string, doc Document) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	model := DocumentModel{
		Collection: collection,
		ID:         id,
		Data:       datatypes.JSON(raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&model).Error
}

// Get returns a document by key.
func (s *GormStore) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, false, err
	}
	var model DocumentModel
	err := s.db.WithContext(ctx).First(&model, "collection = ? AND id = ?", collection, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := decodeData(model.Data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Update shallow-merges patch into the stored document.
func (s *GormStore) Update(ctx context.Context, collection, id string, patch Document) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("collection = ? AND id = ?", collection, id).
		Updates(map[string]any{
			"data":       gorm.Expr("data || ?::jsonb", string(raw)),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Delete removes a document.
func (s *GormStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&DocumentModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Query runs q against one collection.
func (s *GormStore) Query(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", ErrInvalidQuery)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	compiled, err := compileQuery(collection, q)
	if err != nil {
		return nil, err
	}
	var models []DocumentModel
	if err := applyQuery(s.db.WithContext(ctx).Model(&DocumentModel{}), compiled).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]Snapshot, 0, len(models))
	for _, m := range models {
		doc, err := decodeData(m.Data)
		if err != nil {
			return nil, err
		}
		res = append(res, Snapshot{ID: m.ID, Data: doc})
	}
	return res, nil
}

func applyQuery(tx *gorm.DB, compiled sqlQuery) *gorm.DB {
	for _, cond := range compiled.conds {
		tx = tx.Where(cond.SQL, cond.Vars...)
	}
	tx = tx.Order(compiled.orderBy())
	if compiled.limit > 0 {
		tx = tx.Limit(compiled.limit)
	}
	return tx
}

func decodeData(raw datatypes.JSON) (Document, error) {
	doc := Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
