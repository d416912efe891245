// Package sqlite stores containers as tables of an embedded sqlite database
// using gorm. Each table holds the key token, the JSON document and an
// autoincrement sequence defining insertion order.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/filter"
	"github.com/friflo/fliox.go/pkg/models"
)

// row is the table layout shared by all containers.
type row struct {
	Seq  int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	EKey string `gorm:"column:ekey"`
	Doc  string `gorm:"column:doc"`
}

var columns = []string{"seq", "ekey", "doc"}

type Backend struct {
	db *gorm.DB
}

// Open opens or creates the database file at path. Use ":memory:" for a
// private in-memory database.
func Open(path string) (*Backend, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one connection also keeps ":memory:"
	// databases alive across calls
	sqlDB.SetMaxOpenConns(1)
	return &Backend{db: db}, nil
}

func (b *Backend) Open(ctx context.Context, name string) (container.Container, error) {
	if err := container.ValidName(name); err != nil {
		return nil, err
	}
	return container.OpenPrepared(ctx, &Container{name: name, db: b.db, codec: codec.NewJSON()})
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type Container struct {
	name  string
	db    *gorm.DB
	codec codec.JSON

	// mu serializes read-modify-write sequences like Patch
	mu sync.Mutex
}

var (
	_ container.Container = (*Container)(nil)
	_ container.Preparer  = (*Container)(nil)
)

func (c *Container) Name() string {
	return c.name
}

func (c *Container) table(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).Table(c.name)
}

// Prepare creates the table if needed and verifies its columns.
func (c *Container) Prepare(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	ekey TEXT NOT NULL UNIQUE,
	doc  TEXT NOT NULL
)`, c.name)
	if err := c.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return container.Unavailable(ctx, "prepare "+c.name, err)
	}
	migrator := c.db.WithContext(ctx).Migrator()
	if !migrator.HasTable(c.name) {
		return container.Unavailable(ctx, "prepare", fmt.Errorf("table %s missing", c.name))
	}
	for _, col := range columns {
		if !migrator.HasColumn(c.name, col) {
			return container.Unavailable(ctx, "prepare", fmt.Errorf("table %s has no column %s", c.name, col))
		}
	}
	return nil
}

func (c *Container) encode(ctx context.Context, doc models.Document) (string, error) {
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return "", container.Unavailable(ctx, "encode", err)
	}
	return string(data), nil
}

func (c *Container) decode(ctx context.Context, r *row) (models.Document, error) {
	var doc models.Document
	if err := c.codec.Unmarshal([]byte(r.Doc), &doc); err != nil {
		return nil, container.Unavailable(ctx, "decode", err)
	}
	return models.NormalizeNumbers(doc), nil
}

func (c *Container) find(ctx context.Context, key models.EntityKey) (*row, error) {
	var r row
	err := c.table(ctx).Where("ekey = ?", key.Token()).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, container.NotFound(c.name, key)
	}
	if err != nil {
		return nil, container.Unavailable(ctx, "get", err)
	}
	return &r, nil
}

func (c *Container) Get(ctx context.Context, key models.EntityKey) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	r, err := c.find(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.decode(ctx, r)
}

func (c *Container) Query(ctx context.Context, prog *filter.Program) ([]container.Entry, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	var rows []row
	if err := c.table(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, container.Unavailable(ctx, "query", err)
	}
	entries := make([]container.Entry, 0, len(rows))
	for i := range rows {
		key, err := models.ParseToken(rows[i].EKey)
		if err != nil {
			return nil, container.Unavailable(ctx, "query", err)
		}
		doc, err := c.decode(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		if prog.Match(doc) {
			entries = append(entries, container.Entry{Key: key, Doc: doc})
		}
	}
	return entries, nil
}

func (c *Container) Create(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	data, err := c.encode(ctx, doc)
	if err != nil {
		return err
	}
	err = c.table(ctx).Create(&row{EKey: key.Token(), Doc: data}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return container.DuplicateKey(c.name, key)
	}
	return container.Unavailable(ctx, "create", err)
}

func (c *Container) Upsert(ctx context.Context, key models.EntityKey, doc models.Document) error {
	if err := container.CheckContext(ctx); err != nil {
		return err
	}
	data, err := c.encode(ctx, doc)
	if err != nil {
		return err
	}
	err = c.table(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ekey"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc"}),
	}).Create(&row{EKey: key.Token(), Doc: data}).Error
	return container.Unavailable(ctx, "upsert", err)
}

func (c *Container) Patch(ctx context.Context, key models.EntityKey, partial models.Document) (models.Document, error) {
	if err := container.CheckContext(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var merged models.Document
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r row
		err := tx.Table(c.name).Where("ekey = ?", key.Token()).Take(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return container.NotFound(c.name, key)
		}
		if err != nil {
			return container.Unavailable(ctx, "patch", err)
		}
		doc, err := c.decode(ctx, &r)
		if err != nil {
			return err
		}
		merged = models.MergeDocument(doc, partial)
		data, err := c.encode(ctx, merged)
		if err != nil {
			return err
		}
		return container.Unavailable(ctx, "patch", tx.Table(c.name).Where("seq = ?", r.Seq).Update("doc", data).Error)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Container) Delete(ctx context.Context, key models.EntityKey) (bool, error) {
	if err := container.CheckContext(ctx); err != nil {
		return false, err
	}
	res := c.table(ctx).Where("ekey = ?", key.Token()).Delete(&row{})
	if res.Error != nil {
		return false, container.Unavailable(ctx, "delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (c *Container) Count(ctx context.Context, prog *filter.Program) (int, error) {
	if prog != nil {
		return container.CountQuery(ctx, c, prog)
	}
	if err := container.CheckContext(ctx); err != nil {
		return 0, err
	}
	var n int64
	if err := c.table(ctx).Count(&n).Error; err != nil {
		return 0, container.Unavailable(ctx, "count", err)
	}
	return int(n), nil
}

func (c *Container) Close() error {
	return nil
}
