package catalog

import "strings"

// Find returns the project tracked under repoID, compared case-insensitively.
func Find(projects []Project, repoID string) (Project, bool) {
	if repoID == "" {
		return Project{}, false
	}
	for _, p := range projects {
		id := p.RepoID
		if id == "" {
			id = p.DeriveRepoID()
		}
		if id != "" && strings.EqualFold(id, repoID) {
			p.RepoID = id
			return p, true
		}
	}
	return Project{}, false
}

// Lookup finds repoID in projects case-insensitively and returns the catalog's spelling.
func Lookup(projects []Project, repoID string) (string, bool) {
	p, ok := Find(projects, repoID)
	return p.RepoID, ok
}
