// Package reviewid defines the closed set of reviewer identities the engine
// accepts. It replaces string-keyed dynamic dispatch with a sum type so that
// callers cannot construct or look up a reviewer that does not exist.
package reviewid

import "fmt"

// ReviewerID identifies one of the five fixed review lenses. The zero value
// is deliberately invalid; use one of the named constants.
type ReviewerID int

const (
	invalid ReviewerID = iota
	Security
	Correctness
	Performance
	Maintainability
	Reliability
)

// All lists every valid ReviewerID in the canonical iteration order used
// throughout the engine (tie-breaking, report ordering, weight tables).
var All = []ReviewerID{Security, Correctness, Performance, Maintainability, Reliability}

var names = map[ReviewerID]string{
	Security:        "security",
	Correctness:     "correctness",
	Performance:     "performance",
	Maintainability: "maintainability",
	Reliability:     "reliability",
}

var fromName = map[string]ReviewerID{
	"security":        Security,
	"correctness":     Correctness,
	"performance":     Performance,
	"maintainability": Maintainability,
	"reliability":     Reliability,
}

// String renders the reviewer's canonical lowercase name.
func (r ReviewerID) String() string {
	if name, ok := names[r]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether r is one of the five defined reviewer identities.
func (r ReviewerID) Valid() bool {
	_, ok := names[r]
	return ok
}

// Parse converts a reviewer name string into its ReviewerID, returning an
// error for any name outside the closed set (including empty and typos).
func Parse(name string) (ReviewerID, error) {
	if id, ok := fromName[name]; ok {
		return id, nil
	}
	return invalid, fmt.Errorf("reviewid: unknown reviewer identity %q", name)
}

// MarshalJSON renders the ReviewerID as its canonical string name.
func (r ReviewerID) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("reviewid: cannot marshal invalid reviewer identity")
	}
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string into a ReviewerID, rejecting anything
// outside the closed set.
func (r *ReviewerID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	id, err := Parse(s)
	if err != nil {
		return err
	}
	*r = id
	return nil
}
