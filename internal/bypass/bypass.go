// Package bypass implements the Emergency Bypass Store (component G): an
// append-only, JSON-lines audit trail of reviewer bypass events. It is
// purely audit/trace infrastructure — the CS engine never consults it.
package bypass

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// defaultExpiry is the default bypass-record lifetime (§3).
const defaultExpiry = 24 * time.Hour

// lockTimeout bounds how long an append waits for the exclusive lock before
// giving up. Unlike the knowledge store, a bypass-write timeout is not
// fail-open: a bypass grant that silently fails to record itself is an audit
// gap, so callers receive an error instead of a skip signal.
const lockTimeout = 10 * time.Second

// Record is one append-only bypass grant.
type Record struct {
	ID              string                `json:"id"`
	BypassedReviewers []reviewid.ReviewerID `json:"bypassed_reviewers"`
	Reason          string                `json:"reason"`
	Bypasser        string                `json:"bypasser"`
	Timestamp       time.Time             `json:"timestamp"`
	Expiry          time.Time             `json:"expiry"`
	CSAtBypass      float64               `json:"cs_at_bypass"`
}

// Expired reports whether r has passed its expiry relative to now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.Expiry)
}

// Store is an append-only JSON-lines bypass record file.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store backed by the JSON-lines file at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Append records a new bypass grant with expiry = now + 24h (or the
// provided expiryOverride when non-zero), under an exclusive lock. Records
// are never deleted or mutated.
func (s *Store) Append(ctx context.Context, reviewers []reviewid.ReviewerID, reason, bypasser string, csAtBypass float64, expiryOverride time.Duration) (Record, error) {
	log := logging.Get(logging.CategoryBypass)
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return Record{}, fmt.Errorf("bypass: creating directory for %s: %w", s.path, err)
	}

	now := s.now()
	expiry := defaultExpiry
	if expiryOverride > 0 {
		expiry = expiryOverride
	}

	record := Record{
		ID:                uuid.NewString(),
		BypassedReviewers: reviewers,
		Reason:            reason,
		Bypasser:          bypasser,
		Timestamp:         now,
		Expiry:            now.Add(expiry),
		CSAtBypass:        csAtBypass,
	}

	lock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return Record{}, fmt.Errorf("bypass: acquiring write lock: %w", err)
	}
	if !locked {
		return Record{}, fmt.Errorf("bypass: write lock timeout after %s", lockTimeout)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return Record{}, fmt.Errorf("bypass: opening %s: %w", s.path, err)
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return Record{}, fmt.Errorf("bypass: marshaling record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("bypass: writing record: %w", err)
	}

	log.Info("bypass recorded: id=%s reviewers=%v bypasser=%s", record.ID, reviewers, bypasser)
	return record, nil
}

// ReadAll returns every record in the file, unlocked (reads never block on
// the append lock per §5). A missing file yields an empty slice.
func (s *Store) ReadAll() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bypass: opening %s: %w", s.path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("bypass: parsing record line: %w", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bypass: scanning %s: %w", s.path, err)
	}
	return records, nil
}

// Active returns only the records that have not yet expired relative to now.
func (s *Store) Active(now time.Time) ([]Record, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	var active []Record
	for _, r := range all {
		if !r.Expired(now) {
			active = append(active, r)
		}
	}
	return active, nil
}
