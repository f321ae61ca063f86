package catalog

import (
	"strings"
	"time"

	"github.com/suPer8Hu/repochat/internal/textnorm"
)

// Project is one tracked repository shown on the homepage and matched by the resolver.
type Project struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id" yaml:"-"`
	Name        string    `gorm:"type:varchar(128);not null" json:"name" yaml:"name"`
	Description string    `gorm:"type:text" json:"description" yaml:"description"`
	URL         string    `gorm:"type:varchar(255)" json:"url,omitempty" yaml:"url,omitempty"`
	Repo        string    `gorm:"type:varchar(255)" json:"repo,omitempty" yaml:"repo,omitempty"`
	RepoID      string    `gorm:"type:varchar(255);index" json:"repoId" yaml:"-"`
	Tags        []string  `gorm:"serializer:json;type:text" json:"tags" yaml:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

func (Project) TableName() string { return "projects" }

// DeriveRepoID computes the canonical "owner/name" identifier: a GitHub URL wins, then the
// stored repo field, then a name that itself contains a slash. Empty when none applies.
func (p Project) DeriveRepoID() string {
	for _, candidate := range []string{p.URL, p.Repo} {
		if id, ok := textnorm.ExtractRepoFromURL(candidate); ok {
			return id
		}
	}
	if id := ownerName(p.Repo); id != "" {
		return id
	}
	return ownerName(p.Name)
}

func ownerName(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "/")
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.ContainsAny(s, " \t") || strings.Contains(name, "/") {
		return ""
	}
	return owner + "/" + name
}

// normalize fills RepoID and trims fields before the project is stored.
func (p *Project) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.URL = strings.TrimSpace(p.URL)
	p.Repo = strings.TrimSpace(p.Repo)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.RepoID = p.DeriveRepoID()
}
