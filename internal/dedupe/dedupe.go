// Package dedupe flags incoming reports whose titles look like reports the
// system has already accepted for the same repo.
package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/scarablabs/scarab/internal/models"
	"github.com/scarablabs/scarab/internal/store"
)

// DefaultThreshold is the similarity score at or above which two titles
// count as duplicates.
const DefaultThreshold = 0.6

// comparableStatuses are the submissions a new report is checked against.
// Rejected and failed submissions are excluded so a fixed-up resubmission
// of a rejected report is not blocked.
var comparableStatuses = []models.SubmissionStatus{
	models.SubmissionStatusJudging,
	models.SubmissionStatusPaying,
	models.SubmissionStatusPaid,
}

// Detector checks new report titles against prior submissions.
type Detector struct {
	store     store.Store
	threshold float64
}

// NewDetector creates a detector. A non-positive threshold falls back to
// the default.
func NewDetector(s store.Store, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{store: s, threshold: threshold}
}

// tokenize lowercases a title, strips everything outside [a-z0-9 ], and
// returns the set of distinct tokens.
func tokenize(title string) map[string]struct{} {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			sb.WriteRune(r)
		}
	}

	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(sb.String()) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// Similarity scores two titles as the size of their token-set intersection
// divided by the size of the larger set. Two empty titles score zero.
func Similarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}

	larger := len(ta)
	if len(tb) > larger {
		larger = len(tb)
	}
	return float64(shared) / float64(larger)
}

// FindDuplicate returns the first prior submission for the repo whose title
// scores at or above the threshold against the given title, or nil if none
// does.
func (d *Detector) FindDuplicate(ctx context.Context, repoID, title string) (*models.Submission, error) {
	prior, err := d.store.ListSubmissions(ctx, store.SubmissionListFilter{
		RepoID:   repoID,
		Statuses: comparableStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("list prior submissions: %w", err)
	}

	for _, sub := range prior {
		if Similarity(title, sub.IssueTitle) >= d.threshold {
			return sub, nil
		}
	}
	return nil, nil
}
