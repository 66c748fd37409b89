package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/model"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// autoAppendSeverity is the severity threshold at which a VERIFIED cluster
// is written back to the project-local patterns_found section (§4.D).
const autoAppendSeverity = 7.0

// globalRecordSeverity is the higher threshold at which a structured record
// is additionally written to the global tier (§4.D).
const globalRecordSeverity = 9.0

// GlobalRecord is the structured entry written to the global tier for
// severity≥9.0 VERIFIED clusters.
type GlobalRecord struct {
	Title      string
	Category   string
	RootCause  string
	Prevention string
	Confidence float64
	Date       time.Time
}

// Writer appends promoted findings after finalization (§4.D "Writing").
type Writer struct {
	store *Store
	now   func() time.Time
}

// NewWriter builds a Writer over store. now is injectable for deterministic
// tests; callers pass time.Now in production.
func NewWriter(store *Store, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{store: store, now: now}
}

// WritePromoted scans validated clusters and appends the ones that qualify
// for auto-promotion, per §4.D. Every lock-timeout or I/O failure is
// recovered and reported as a warning (fail-open); it returns the count of
// entries actually written, matching ReviewResult.knowledge_writes.
func (w *Writer) WritePromoted(ctx context.Context, clusters []model.ValidatedCluster) (written int, warnings []string) {
	log := logging.Get(logging.CategoryKnowledge)
	date := w.now()

	for _, c := range clusters {
		if c.Verdict != model.VerdictVerified || c.Severity < autoAppendSeverity {
			continue
		}

		entry := Entry{
			Section: SectionPatternsFound,
			Date:    date,
			Text:    c.Description,
			Source:  "auto-promoted:" + c.Fingerprint[:minInt(12, len(c.Fingerprint))],
		}
		ok, err := w.store.Append(ctx, c.OriginReviewer, TierProject, entry)
		if err != nil {
			w := fmt.Sprintf("knowledge write failed for %s/project: %v", c.OriginReviewer, err)
			log.Warn("%s", w)
			warnings = append(warnings, w)
		} else if ok {
			written++
		}

		if c.Severity >= globalRecordSeverity {
			rec := GlobalRecord{
				Title:      c.Description,
				Category:   c.OriginReviewer.String(),
				RootCause:  c.Description,
				Prevention: c.Remediation,
				Confidence: c.Confidence,
				Date:       date,
			}
			globalEntry := Entry{
				Section: SectionPatternsFound,
				Date:    date,
				Text:    renderGlobalRecord(rec),
				Source:  "auto-promoted-global",
			}
			ok, err := w.store.Append(ctx, c.OriginReviewer, TierGlobal, globalEntry)
			if err != nil {
				warn := fmt.Sprintf("knowledge write failed for %s/global: %v", c.OriginReviewer, err)
				log.Warn("%s", warn)
				warnings = append(warnings, warn)
			} else if ok {
				written++
			}
		}
	}
	return written, warnings
}

func renderGlobalRecord(rec GlobalRecord) string {
	return fmt.Sprintf("%s | root_cause=%q prevention=%q confidence=%.1f", rec.Title, rec.RootCause, rec.Prevention, rec.Confidence)
}

// MarkFalsePositive appends an entry to a reviewer's project-local
// false_positives section, used by callers that want to seed the historical
// validator layer outside of auto-promotion (e.g. a human override).
func (w *Writer) MarkFalsePositive(ctx context.Context, reviewer reviewid.ReviewerID, fingerprint, reason string) (bool, error) {
	entry := Entry{
		Section: SectionFalsePositives,
		Date:    w.now(),
		Text:    fmt.Sprintf("%s (%s)", fingerprint, reason),
		Source:  "manual-override",
	}
	return w.store.Append(ctx, reviewer, TierProject, entry)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
