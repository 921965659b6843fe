package dao

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/gormdb"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

// Descriptor tells the record oracle how to read one kind of collaborator-owned record.
type Descriptor struct {
	Kind       string
	Table      string
	Columns    []string
	FKColumn   string
	SoftDelete bool
}

var descriptors = map[string]Descriptor{
	"user": {Kind: "user", Table: "user", SoftDelete: true,
		Columns: []string{"id", "firstname", "lastname", "username", "email", "avatar"}},
	"bot": {Kind: "bot", Table: "bot", SoftDelete: true,
		Columns: []string{"id", "name", "bot_uname", "platform"}},
	"project": {Kind: "project", Table: "project", SoftDelete: true,
		Columns: []string{"id", "title", "project_type", "owner_id"}},
	"project_column": {Kind: "project_column", Table: "project_column", FKColumn: "project_id", SoftDelete: true,
		Columns: []string{"id", "name", "project_id"}},
	"card": {Kind: "card", Table: "card", FKColumn: "project_id", SoftDelete: true,
		Columns: []string{"id", "title", "project_id", "project_column_id"}},
	"project_wiki": {Kind: "project_wiki", Table: "project_wiki", FKColumn: "project_id", SoftDelete: true,
		Columns: []string{"id", "title", "project_id"}},
}

// DescriptorOf returns the descriptor for kind.
func DescriptorOf(kind string) (Descriptor, bool) {
	d, ok := descriptors[kind]
	return d, ok
}

// RecordDao is the read side of the relational store owned by collaborators.
type RecordDao interface {
	Lookup(ctx context.Context, kind string, id snowflake.ID) (map[string]any, error)
	LookupMany(ctx context.Context, kind string, ids []snowflake.ID) (map[snowflake.ID]map[string]any, error)
	// Parent returns the FK column value of the record, e.g. the project of a card.
	Parent(ctx context.Context, kind string, id snowflake.ID) (snowflake.ID, error)
	Persist(ctx context.Context, record any) error
}

type RecordDaoImpl struct {
	gormDao
	GormComp *gormdb.GormComponent `infra:"dep:gorm"`
}

func NewRecordDao(dsName string) *RecordDaoImpl {
	return &RecordDaoImpl{gormDao: newGormDao(bizConsts.COMP_DAO_RECORD, dsName)}
}

func NewRecordDaoWithDB(db *gorm.DB) *RecordDaoImpl {
	return &RecordDaoImpl{gormDao: withDB(bizConsts.COMP_DAO_RECORD, db)}
}

func (d *RecordDaoImpl) Start(ctx context.Context) error { return d.open(ctx, d.GormComp) }

// query selects cols (quoted) from the descriptor's table.
func (d *RecordDaoImpl) query(ctx context.Context, desc Descriptor, cols ...string) *gorm.DB {
	sel := clause.Select{Columns: make([]clause.Column, len(cols))}
	for i, c := range cols {
		sel.Columns[i] = clause.Column{Name: c}
	}
	q := d.read(ctx).Table(desc.Table).Clauses(sel)
	if desc.SoftDelete && !includeDeleted(ctx) {
		q = q.Where("deleted_at IS NULL")
	}
	return q
}

func (d *RecordDaoImpl) Lookup(ctx context.Context, kind string, id snowflake.ID) (map[string]any, error) {
	desc, ok := descriptors[kind]
	if !ok {
		return nil, errs.Invalid("record.lookup", "unknown record kind %q", kind)
	}
	row := map[string]any{}
	if err := d.query(ctx, desc, desc.Columns...).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, classify("record.lookup "+kind, err)
	}
	return typedIDs(row), nil
}

func (d *RecordDaoImpl) LookupMany(ctx context.Context, kind string, ids []snowflake.ID) (map[snowflake.ID]map[string]any, error) {
	desc, ok := descriptors[kind]
	if !ok {
		return nil, errs.Invalid("record.lookup", "unknown record kind %q", kind)
	}
	out := make(map[snowflake.ID]map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []map[string]any
	if err := d.query(ctx, desc, desc.Columns...).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, classify("record.lookup_many "+kind, err)
	}
	for _, r := range rows {
		r = typedIDs(r)
		if id, ok := r["id"].(snowflake.ID); ok {
			out[id] = r
		}
	}
	return out, nil
}

func (d *RecordDaoImpl) Parent(ctx context.Context, kind string, id snowflake.ID) (snowflake.ID, error) {
	desc, ok := descriptors[kind]
	if !ok || desc.FKColumn == "" {
		return 0, errs.Invalid("record.parent", "record kind %q has no parent", kind)
	}
	var parent int64
	err := d.query(ctx, desc, desc.FKColumn).Where("id = ?", id).Limit(1).Scan(&parent).Error
	if err != nil {
		return 0, classify("record.parent "+kind, err)
	}
	if parent == 0 {
		return 0, errs.NotFound("record.parent", "%s %s", kind, id)
	}
	return snowflake.ID(parent), nil
}

func (d *RecordDaoImpl) Persist(ctx context.Context, record any) error {
	return classify("record.persist", d.write(ctx).Create(record).Error)
}

// typedIDs turns id and *_id integer columns into snowflake ids so they encode as short codes.
func typedIDs(row map[string]any) map[string]any {
	for k, v := range row {
		if k != "id" && !strings.HasSuffix(k, "_id") {
			continue
		}
		switch n := v.(type) {
		case int64:
			row[k] = snowflake.ID(n)
		case uint64:
			row[k] = snowflake.ID(n)
		case int32:
			row[k] = snowflake.ID(n)
		case int:
			row[k] = snowflake.ID(n)
		}
	}
	return row
}
