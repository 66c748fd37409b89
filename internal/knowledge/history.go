package knowledge

import (
	"context"
	"strings"

	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// HistoryChecker implements validator.HistoryChecker against the
// project-local false_positives section: a cluster's fingerprint is
// considered historically rejected only on an exact match against a
// previously recorded fingerprint (§4.C layer 3).
type HistoryChecker struct {
	store *Store
}

// NewHistoryChecker wraps store for use as a validator.HistoryChecker.
func NewHistoryChecker(store *Store) *HistoryChecker {
	return &HistoryChecker{store: store}
}

// IsFalsePositive reports whether fingerprint exactly matches a recorded
// false_positives entry for reviewer. A knowledge read failure fails open
// (returns false, nil) rather than blocking validation — §7 treats
// knowledge retrieval failure as recoverable.
func (h *HistoryChecker) IsFalsePositive(reviewer reviewid.ReviewerID, fingerprint string) (bool, error) {
	sections, err := h.store.Read(context.Background(), reviewer, TierProject)
	if err != nil {
		return false, nil
	}
	for _, e := range sections[SectionFalsePositives] {
		if e.Text == fingerprint || strings.HasPrefix(e.Text, fingerprint+" ") {
			return true, nil
		}
	}
	return false, nil
}
