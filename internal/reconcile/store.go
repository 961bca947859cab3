package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aseanmotorclub/roadwatch/internal/model"
)

// Store persists the applied tag set per reconciler domain, so a restart
// can despawn objects spawned by a previous run.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over the state database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the applied tags and content hash for a domain. A domain
// with no record yet returns empty values and found=false.
func (s *Store) Get(name string) (tags []string, hash string, found bool, err error) {
	var rec model.AppliedState
	err = s.db.First(&rec, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("loading applied state for %s: %w", name, err)
	}

	if len(rec.Tags) > 0 {
		if err := json.Unmarshal(rec.Tags, &tags); err != nil {
			return nil, "", false, fmt.Errorf("decoding applied tags for %s: %w", name, err)
		}
	}
	return tags, rec.ContentHash, true, nil
}

// Put upserts the applied state for a domain.
func (s *Store) Put(name string, tags []string, hash string, now time.Time) error {
	raw, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding applied tags for %s: %w", name, err)
	}

	rec := model.AppliedState{
		Name:        name,
		Tags:        datatypes.JSON(raw),
		ContentHash: hash,
		AppliedAt:   now,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("storing applied state for %s: %w", name, err)
	}
	return nil
}
