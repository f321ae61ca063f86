// Package resolver maps a free-text question to at most one tracked repository using lexical
// heuristics only.
//
// Scores encode confidence:
//
//	3  the "owner/name" identifier appears literally in the question
//	2  the project's display name appears (punctuation and spacing ignored)
//	1  the name segment of the identifier appears (punctuation and spacing ignored)
//	0  a shared token of four or more characters
//
// Only the highest applicable score counts per project. Score 0 is never explicit. A tie at the
// top score between different repositories resolves to nothing.
package resolver

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/textnorm"
)

const (
	ScoreTokenOverlap = 0
	ScoreNameSegment  = 1
	ScoreDisplayName  = 2
	ScoreIdentifier   = 3
	// ScoreURL marks a resolution made from a github.com URL in the question.
	ScoreURL = 4

	minOverlapTokenLen = 4
	minBareTokenLen    = 5
)

// Candidate is one project's best match against a question.
type Candidate struct {
	RepoID   string
	Score    int
	Explicit bool
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	RepoID   string `json:"repo"`
	Explicit bool   `json:"explicit"`
	Score    int    `json:"score"`
	// Switched is true when an explicit match names a repository other than the active one.
	// Callers reset conversation context in that case.
	Switched bool `json:"switched"`
}

// query is the question pre-processed once per Resolve.
type query struct {
	lower    string
	loose    string
	tokens   []string
	tokenSet map[string]struct{}
	intent   bool
}

func newQuery(question string) query {
	q := query{
		lower:  strings.ToLower(question),
		loose:  textnorm.NormalizeLoose(question),
		tokens: textnorm.Tokenize(question),
		intent: textnorm.HasProjectIntent(question),
	}
	q.tokenSet = make(map[string]struct{}, len(q.tokens))
	for _, t := range q.tokens {
		q.tokenSet[t] = struct{}{}
	}
	return q
}

// Resolve picks the repository a question is about. ok is false when nothing matches or the
// best matches are tied between different repositories. activeRepo is the repository the
// conversation currently leans on; it only affects Resolution.Switched.
func Resolve(question string, projects []catalog.Project, activeRepo string) (Resolution, bool) {
	if urlRepo, ok := textnorm.ExtractRepoFromURL(question); ok {
		if id, ok := catalog.Lookup(projects, urlRepo); ok {
			return finish(Candidate{RepoID: id, Score: ScoreURL, Explicit: true}, activeRepo), true
		}
	}

	cands := Candidates(question, projects)
	if len(cands) == 0 {
		return Resolution{}, false
	}
	if len(cands) > 1 && cands[0].Score == cands[1].Score {
		return Resolution{}, false
	}
	return finish(cands[0], activeRepo), true
}

func finish(c Candidate, activeRepo string) Resolution {
	return Resolution{
		RepoID:   c.RepoID,
		Explicit: c.Explicit,
		Score:    c.Score,
		Switched: c.Explicit && !strings.EqualFold(c.RepoID, activeRepo),
	}
}

// Candidates scores every project with a resolvable identifier and returns one candidate per
// repository, best score first. Projects keep catalog order within a score.
func Candidates(question string, projects []catalog.Project) []Candidate {
	q := newQuery(question)

	best := make(map[string]int) // lowercased repo id -> index in out
	var out []Candidate
	for _, p := range projects {
		repoID := p.RepoID
		if repoID == "" {
			repoID = p.DeriveRepoID()
		}
		if repoID == "" {
			continue
		}
		c, ok := match(q, p.Name, repoID)
		if !ok {
			continue
		}
		key := strings.ToLower(repoID)
		if i, seen := best[key]; seen {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func match(q query, name, repoID string) (Candidate, bool) {
	repoLower := strings.ToLower(repoID)
	if strings.Contains(q.lower, repoLower) {
		return Candidate{RepoID: repoID, Score: ScoreIdentifier, Explicit: true}, true
	}

	if nameLoose := textnorm.NormalizeLoose(name); nameLoose != "" && strings.Contains(q.loose, nameLoose) {
		return Candidate{
			RepoID:   repoID,
			Score:    ScoreDisplayName,
			Explicit: explicitMatch(q, textnorm.Tokenize(name)),
		}, true
	}

	segment := repoID
	if i := strings.LastIndex(repoID, "/"); i >= 0 {
		segment = repoID[i+1:]
	}
	if segLoose := textnorm.NormalizeLoose(segment); segLoose != "" && strings.Contains(q.loose, segLoose) {
		return Candidate{
			RepoID:   repoID,
			Score:    ScoreNameSegment,
			Explicit: explicitMatch(q, textnorm.Tokenize(segment)),
		}, true
	}

	for _, t := range append(textnorm.Tokenize(name), textnorm.Tokenize(repoID)...) {
		if utf8.RuneCountInString(t) < minOverlapTokenLen {
			continue
		}
		if _, ok := q.tokenSet[t]; ok {
			return Candidate{RepoID: repoID, Score: ScoreTokenOverlap}, true
		}
	}
	return Candidate{}, false
}

// explicitMatch requires a contiguous run of the phrase's tokens to appear contiguously in the
// question. Runs are at least two tokens long for multi-token phrases. A lone token shorter than
// five characters additionally needs project intent in the question.
func explicitMatch(q query, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	minRun := 1
	if len(phrase) >= 2 {
		minRun = 2
	}

	found := false
	for size := len(phrase); size >= minRun && !found; size-- {
		for start := 0; start+size <= len(phrase); start++ {
			if containsRun(q.tokens, phrase[start:start+size]) {
				found = true
				break
			}
		}
	}
	if !found {
		return false
	}
	if len(phrase) == 1 && utf8.RuneCountInString(phrase[0]) < minBareTokenLen {
		return q.intent
	}
	return true
}

func containsRun(haystack, run []string) bool {
	if len(run) == 0 || len(run) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(haystack); i++ {
		for j := range run {
			if haystack[i+j] != run[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
