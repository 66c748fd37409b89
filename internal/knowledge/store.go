// Package knowledge implements the two-tier RAG knowledge retriever and
// writer (component D): markdown-backed per-reviewer, per-tier knowledge
// files with locked concurrent access, weighted retrieval, auto-append
// writing, and drift detection.
package knowledge

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// Tier distinguishes the per-project knowledge file from the cross-project
// global one.
type Tier string

const (
	TierProject Tier = "project"
	TierGlobal  Tier = "global"
)

// Section is one of the five fixed named sections every knowledge file
// carries, in their canonical heading order.
type Section string

const (
	SectionPatternsFound      Section = "patterns_found"
	SectionFalsePositives     Section = "false_positives"
	SectionIncidentsPrevented Section = "incidents_prevented"
	SectionRepositoryRules    Section = "repository_rules"
	SectionCodebaseContext    Section = "codebase_context"
)

// sectionOrder is the canonical heading order written to disk.
var sectionOrder = []Section{
	SectionPatternsFound,
	SectionFalsePositives,
	SectionIncidentsPrevented,
	SectionRepositoryRules,
	SectionCodebaseContext,
}

var sectionHeadings = map[Section]string{
	SectionPatternsFound:      "Patterns Found",
	SectionFalsePositives:     "False Positives",
	SectionIncidentsPrevented: "Incidents Prevented",
	SectionRepositoryRules:    "Repository Rules",
	SectionCodebaseContext:    "Codebase Context",
}

// Entry is one persisted line of prior learning.
type Entry struct {
	Section Section
	Date    time.Time
	Text    string
	Source  string
}

// bulletPattern matches "- [YYYY-MM-DD] text (Source: tag)". Parsers must
// tolerate entries missing a Source tag as well (§6 forward-compatibility).
var bulletPattern = regexp.MustCompile(`^-\s*\[(\d{4}-\d{2}-\d{2})\]\s*(.*?)(?:\s*\(Source:\s*(.*?)\))?\s*$`)

var headingPattern = regexp.MustCompile(`^##\s+(.+?)\s*$`)

var headingToSection = func() map[string]Section {
	m := make(map[string]Section)
	for sec, heading := range sectionHeadings {
		m[strings.ToLower(heading)] = sec
		m[string(sec)] = sec
	}
	return m
}()

// Store manages on-disk markdown knowledge files with per-file locking.
type Store struct {
	rootDir     string
	lockTimeout time.Duration
}

// NewStore returns a Store rooted at rootDir (typically
// <workspace>/.review/knowledge). The directory is created lazily on first
// write.
func NewStore(rootDir string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	return &Store{rootDir: rootDir, lockTimeout: lockTimeout}
}

func (s *Store) path(reviewer reviewid.ReviewerID, tier Tier) string {
	return filepath.Join(s.rootDir, fmt.Sprintf("%s_%s.md", reviewer.String(), tier))
}

// Read loads all entries from a reviewer's knowledge file at the given tier,
// under a shared lock. A missing file yields an empty entry set, not an
// error (nothing has ever been written yet).
func (s *Store) Read(ctx context.Context, reviewer reviewid.ReviewerID, tier Tier) (map[Section][]Entry, error) {
	path := s.path(reviewer, tier)
	log := logging.Get(logging.CategoryKnowledge)

	lock := flock.New(path + ".lock")
	locked, err := tryLockContext(ctx, lock.TryRLockContext, s.lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("knowledge: acquiring read lock for %s: %w", path, err)
	}
	if !locked {
		log.Warn("read lock timeout on %s, failing open with empty knowledge", path)
		return map[Section][]Entry{}, nil
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[Section][]Entry{}, nil
		}
		return nil, fmt.Errorf("knowledge: reading %s: %w", path, err)
	}
	return parseMarkdown(data), nil
}

// Append adds one entry to a reviewer's knowledge file under an exclusive
// lock, creating the file (with all five section headings) if it does not
// exist. On lock timeout, the write is skipped and ok=false (fail-open,
// §4.D/§7); this is never an error the caller must propagate.
func (s *Store) Append(ctx context.Context, reviewer reviewid.ReviewerID, tier Tier, entry Entry) (ok bool, err error) {
	log := logging.Get(logging.CategoryKnowledge)
	if err := os.MkdirAll(s.rootDir, 0755); err != nil {
		return false, fmt.Errorf("knowledge: creating knowledge dir: %w", err)
	}
	path := s.path(reviewer, tier)

	lock := flock.New(path + ".lock")
	locked, err := tryLockContext(ctx, lock.TryLockContext, s.lockTimeout)
	if err != nil {
		return false, fmt.Errorf("knowledge: acquiring write lock for %s: %w", path, err)
	}
	if !locked {
		log.Warn("write lock timeout on %s, skipping append (fail-open)", path)
		return false, nil
	}
	defer lock.Unlock()

	existing := map[Section][]Entry{}
	if data, readErr := os.ReadFile(path); readErr == nil {
		existing = parseMarkdown(data)
	} else if !os.IsNotExist(readErr) {
		return false, fmt.Errorf("knowledge: reading %s before append: %w", path, readErr)
	}
	existing[entry.Section] = append(existing[entry.Section], entry)

	rendered := renderMarkdown(existing)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(rendered), 0644); err != nil {
		return false, fmt.Errorf("knowledge: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("knowledge: renaming temp file into place: %w", err)
	}
	log.Debug("appended entry to %s/%s", reviewer, entry.Section)
	return true, nil
}

// tryLockFn matches flock's TryLockContext/TryRLockContext signature.
type tryLockFn func(ctx context.Context, retryDelay time.Duration) (bool, error)

func tryLockContext(parent context.Context, fn tryLockFn, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return fn(ctx, 50*time.Millisecond)
}

func parseMarkdown(data []byte) map[Section][]Entry {
	sections := make(map[Section][]Entry)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	var current Section
	var haveCurrent bool

	for scanner.Scan() {
		line := scanner.Text()
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if sec, ok := headingToSection[strings.ToLower(m[1])]; ok {
				current = sec
				haveCurrent = true
			} else {
				haveCurrent = false // unknown section: tolerate, ignore its bullets
			}
			continue
		}
		if !haveCurrent {
			continue
		}
		m := bulletPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		date, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			continue
		}
		sections[current] = append(sections[current], Entry{
			Section: current,
			Date:    date,
			Text:    m[2],
			Source:  m[3],
		})
	}
	return sections
}

func renderMarkdown(sections map[Section][]Entry) string {
	var b strings.Builder
	for _, sec := range sectionOrder {
		b.WriteString("## " + sectionHeadings[sec] + "\n\n")
		entries := sections[sec]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
		for _, e := range entries {
			if e.Source != "" {
				fmt.Fprintf(&b, "- [%s] %s (Source: %s)\n", e.Date.Format("2006-01-02"), e.Text, e.Source)
			} else {
				fmt.Fprintf(&b, "- [%s] %s\n", e.Date.Format("2006-01-02"), e.Text)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
