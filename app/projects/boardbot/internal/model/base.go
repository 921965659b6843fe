// Package model holds the gorm models read and written by the engine. Cross-record references are
// IDs only; related records are loaded through the record oracle.
package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

// Base is embedded by every table. ID is assigned from the process generator on create.
type Base struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = snowflake.Next()
	}
	return nil
}

// SoftDelete hides rows from default queries; dao.WithDeleted re-enables them.
type SoftDelete struct {
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// JSONMap is a JSON object column encoded with the canonical codec.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := codec.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil || len(raw) == 0 {
		*m = JSONMap{}
		return err
	}
	out := map[string]any{}
	if err := codec.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan JSONMap: %w", err)
	}
	*m = out
	return nil
}

func (JSONMap) GormDataType() string { return "json" }

// JSONList is a JSON array column.
type JSONList []any

func (l JSONList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := codec.Marshal([]any(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *JSONList) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil || len(raw) == 0 {
		*l = JSONList{}
		return err
	}
	var out []any
	if err := codec.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan JSONList: %w", err)
	}
	*l = out
	return nil
}

func (JSONList) GormDataType() string { return "json" }

// StringList is a JSON array of strings.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := codec.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil || len(raw) == 0 {
		*l = StringList{}
		return err
	}
	var out []string
	if err := codec.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan StringList: %w", err)
	}
	*l = out
	return nil
}

func (StringList) GormDataType() string { return "json" }

func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func scanBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON column source %T", src)
}
