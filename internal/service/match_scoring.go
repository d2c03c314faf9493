package service

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Scoring weights and thresholds for candidate ranking.
const (
	nameWeight  = 0.4
	classWeight = 0.4
	dateWeight  = 0.2

	defaultMinScore      = 70
	defaultAmbiguityBand = 15
	defaultCandidateCap  = 50

	strongMatchScore = 95

	// Similarity below this on a name or class field counts as a real
	// difference in diffs; anything above is cosmetic.
	diffSimilarityThreshold = 95
)

// stringSimilarity scores two strings 0-100. Exact match after casefold/trim
// is 100, substring containment either way is 80, otherwise normalized edit
// distance. Symmetric; zero when either side is empty.
func stringSimilarity(a, b string) int {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 80
	}
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	return int(math.Round((1 - float64(distance)/float64(maxLen)) * 100))
}

// dateSimilarity scores calendar proximity in bands. A missing date on either
// side contributes nothing.
func dateSimilarity(a, b *time.Time) int {
	if a == nil || b == nil {
		return 0
	}
	if sameDay(*a, *b) {
		return 100
	}
	gap := a.Sub(*b)
	if gap < 0 {
		gap = -gap
	}
	days := int(gap.Hours() / 24)
	switch {
	case days <= 7:
		return 80
	case days <= 30:
		return 50
	case days <= 90:
		return 20
	default:
		return 0
	}
}

// weightedScore folds the three sub-scores into one 0-100 integer.
func weightedScore(nameSim, classSim, dateSim int) int {
	return int(math.Round(nameWeight*float64(nameSim) + classWeight*float64(classSim) + dateWeight*float64(dateSim)))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// firstToken returns the leading whitespace-delimited token, lowercased.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
