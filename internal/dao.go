package internal

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cond narrows a query.
type Cond func(tx *gorm.DB) *gorm.DB

func Eq(col string, v interface{}) Cond {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where(clause.Eq{Column: clause.Column{Name: col}, Value: v}) }
}

func Neq(col string, v interface{}) Cond {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where(clause.Neq{Column: clause.Column{Name: col}, Value: v}) }
}

func Lt(col string, v interface{}) Cond {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where(clause.Lt{Column: clause.Column{Name: col}, Value: v}) }
}

func In(col string, vs ...interface{}) Cond {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where(clause.IN{Column: clause.Column{Name: col}, Values: vs}) }
}

func OrderBy(col string, desc bool) Cond {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: desc})
	}
}

func Page(page, size int) Cond {
	return func(tx *gorm.DB) *gorm.DB {
		if page < 1 {
			page = 1
		}
		return tx.Offset((page - 1) * size).Limit(size)
	}
}

// Dao is a typed repository over one gorm model.
type Dao[T any] struct {
	db *gorm.DB
}

func NewDao[T any](g *gorm.DB) *Dao[T] {
	return &Dao[T]{db: g}
}

// Instance binds the repository to ctx.
func (d *Dao[T]) Instance(ctx context.Context) *DaoInstance[T] {
	return &DaoInstance[T]{tx: d.db.WithContext(ctx)}
}

type DaoInstance[T any] struct {
	tx *gorm.DB
}

func (d *DaoInstance[T]) scoped(conds []Cond) *gorm.DB {
	tx := d.tx.Model(new(T))
	for _, c := range conds {
		tx = c(tx)
	}
	return tx
}

func (d *DaoInstance[T]) Insert(v *T) error {
	return d.tx.Create(v).Error
}

// Save writes every field of v, inserting it when it has no primary key.
func (d *DaoInstance[T]) Save(v *T) error {
	return d.tx.Save(v).Error
}

// Get returns the first match, or nil when there is none.
func (d *DaoInstance[T]) Get(conds ...Cond) (*T, error) {
	var v T
	err := d.scoped(conds).Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *DaoInstance[T]) List(conds ...Cond) ([]*T, error) {
	var out []*T
	if err := d.scoped(conds).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DaoInstance[T]) Count(conds ...Cond) (int64, error) {
	var n int64
	err := d.scoped(conds).Count(&n).Error
	return n, err
}
