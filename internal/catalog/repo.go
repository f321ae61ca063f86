package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repo is the gorm accessor for the projects table.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// ListProjects returns every project ordered by name.
func (r *Repo) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return out, nil
}

// ReplaceAll swaps the whole catalog in one transaction.
func (r *Repo) ReplaceAll(ctx context.Context, projects []Project) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Project{}).Error; err != nil {
			return fmt.Errorf("clearing projects: %w", err)
		}
		if len(projects) == 0 {
			return nil
		}
		rows := make([]Project, len(projects))
		for i, p := range projects {
			p.ID = 0
			p.normalize()
			rows[i] = p
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("inserting projects: %w", err)
		}
		return nil
	})
}
