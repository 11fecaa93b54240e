// Package fuzzymatch resolves an incoming supplier name/contact tuple
// against a merchant's existing suppliers using a weighted blend of name,
// email, phone, and website similarity, with a choice of two name-scoring
// backends (spec.md §4.3.2).
package fuzzymatch

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Engine identifies which backend produced a name-similarity score.
type Engine string

// Supported name-scoring engines.
const (
	EngineA Engine = "engine_a" // in-process Levenshtein ratio
	EngineB Engine = "engine_b" // Postgres pg_trgm indexed similarity
)

// Weights applied to each signal when blending a candidate's overall score.
const (
	weightName    = 0.5
	weightEmail   = 0.2
	weightPhone   = 0.15
	weightWebsite = 0.15
)

// Candidate is a supplier row scored against an incoming name/contact tuple.
type Candidate struct {
	Supplier domain.Supplier
	Score    float64
	Engine   Engine
}

// NameScorer computes a 0..1 name-similarity score for a candidate name
// against the query name.
type NameScorer interface {
	Score(query, candidate string) float64
}

// LevenshteinScorer is fuzzy-match Engine A: an in-process Levenshtein
// ratio over normalized names, O(N) over the merchant's supplier list.
type LevenshteinScorer struct{}

// Score returns 1 - (edit distance / max length), clamped to [0, 1].
func (LevenshteinScorer) Score(query, candidate string) float64 {
	a, b := normalizeName(query), normalizeName(candidate)
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	score := 1 - float64(dist)/float64(maxLen)
	if score < 0 {
		score = 0
	}
	return score
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRE.ReplaceAllString(s, " ")
}

// BestMatch scans candidates using the given name scorer and blends name,
// email, phone, and website signals per the weights in spec.md §4.3.2.
// It returns the highest-scoring candidate and whether it met threshold.
func BestMatch(query domain.Supplier, candidates []domain.Supplier, scorer NameScorer, engine Engine, threshold float64) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		score := blend(query, c, scorer)
		if !found || score > best.Score {
			best = Candidate{Supplier: c, Score: score, Engine: engine}
			found = true
		}
	}
	if !found || best.Score < threshold {
		return Candidate{}, false
	}
	return best, true
}

func blend(query, candidate domain.Supplier, scorer NameScorer) float64 {
	nameScore := scorer.Score(query.Name, candidate.Name)
	emailScore := boolScore(equalFold(query.Email, candidate.Email))
	phoneScore := boolScore(normalizePhone(query.Phone) == normalizePhone(candidate.Phone) && normalizePhone(query.Phone) != "")
	websiteScore := boolScore(hostname(query.Website) == hostname(candidate.Website) && hostname(query.Website) != "")

	return nameScore*weightName + emailScore*weightEmail + phoneScore*weightPhone + websiteScore*weightWebsite
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func equalFold(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

var nonDigitRE = regexp.MustCompile(`\D`)

func normalizePhone(p string) string {
	return nonDigitRE.ReplaceAllString(p, "")
}

func hostname(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}
