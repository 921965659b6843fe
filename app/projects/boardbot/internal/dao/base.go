// Package dao is the engine's gorm data layer. Every DAO is a component resolving its *gorm.DB
// from the gorm component by data source name.
package dao

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
)

type withDeletedKey struct{}

// WithDeleted makes reads through ctx include soft-deleted rows.
func WithDeleted(ctx context.Context) context.Context {
	return context.WithValue(ctx, withDeletedKey{}, true)
}

func includeDeleted(ctx context.Context) bool {
	v, _ := ctx.Value(withDeletedKey{}).(bool)
	return v
}

// gormDao holds what every DAO needs once started.
type gormDao struct {
	*core.BaseComponent
	db     *gorm.DB
	dsName string
}

func newGormDao(name, dsName string) gormDao {
	return gormDao{
		BaseComponent: core.NewBaseComponent(name, consts.COMPONENT_LOGGING),
		dsName:        dsName,
	}
}

// withDB returns a started DAO base bound to db.
func withDB(name string, db *gorm.DB) gormDao {
	d := gormDao{BaseComponent: core.NewBaseComponent(name), db: db}
	d.SetActive(true)
	return d
}

func (d *gormDao) open(ctx context.Context, gc *gormdb.GormComponent) error {
	if d.db != nil {
		return d.BaseComponent.Start(ctx)
	}
	if gc == nil {
		return fmt.Errorf("%s: gorm component not injected", d.Name())
	}
	db, err := gc.GetDB(d.dsName)
	if err != nil {
		return fmt.Errorf("get gorm db %s failed: %w", d.dsName, err)
	}
	d.db = db
	return d.BaseComponent.Start(ctx)
}

// read returns a session for ctx honoring WithDeleted.
func (d *gormDao) read(ctx context.Context) *gorm.DB {
	q := d.db.WithContext(ctx)
	if includeDeleted(ctx) {
		q = q.Unscoped()
	}
	return q
}

func (d *gormDao) write(ctx context.Context) *gorm.DB { return d.db.WithContext(ctx) }

// classify maps gorm errors onto the engine's kinds.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errs.NotFound(op, "record not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &errs.Error{Kind: errs.ErrConflict, Op: op, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return errs.Transient(op, err)
}
