package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cyvadra/signal-relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPersister keeps every signal version in the relational store
type GormPersister struct {
	db *gorm.DB
}

var _ Persister = (*GormPersister)(nil)

// NewGormPersister creates a persister over db
func NewGormPersister(db *gorm.DB) *GormPersister {
	return &GormPersister{db: db}
}

// Save upserts the signal by id. A row already holding a newer or equal
// version is left untouched.
func (p *GormPersister) Save(ctx context.Context, sig *models.Signal) error {
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "signals.version < excluded.version"},
			}},
		}).
		Create(sig).Error
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	return nil
}

// LoadRecent returns up to perPartition of the newest signals for every subscriber scope
func (p *GormPersister) LoadRecent(ctx context.Context, perPartition int) ([]*models.Signal, error) {
	db := p.db.WithContext(ctx)

	var scopes []string
	if err := db.Model(&models.Signal{}).Distinct().Pluck("subscriber_id", &scopes).Error; err != nil {
		return nil, fmt.Errorf("list signal scopes: %w", err)
	}

	var out []*models.Signal
	for _, scope := range scopes {
		var batch []*models.Signal
		err := db.Where("subscriber_id = ?", scope).
			Order("created_at DESC").
			Limit(perPartition).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("load signals for scope %q: %w", scope, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// FindByID reads a signal from the durable tier, including ones evicted from memory
func (p *GormPersister) FindByID(ctx context.Context, id string) (*models.Signal, error) {
	var sig models.Signal
	err := p.db.WithContext(ctx).First(&sig, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}
