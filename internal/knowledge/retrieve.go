package knowledge

import (
	"context"
	"sort"

	"github.com/sam-fakhreddine/consensus-review/internal/embedding"
	"github.com/sam-fakhreddine/consensus-review/internal/logging"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

// charsPerToken is the approximate-accounting divisor used for the §4.D
// token budget (char/4 estimate).
const charsPerToken = 4

// SectionWeights maps each of the five sections to its task-aware retrieval
// weight for one reviewer (§4.D table).
type SectionWeights map[Section]float64

// scoredEntry is an Entry plus its tier, raw similarity, and final weighted
// score, used internally while ranking.
type scoredEntry struct {
	entry Entry
	tier  Tier
	score float64
}

// Retriever produces ranked, token-budgeted knowledge injections for reviewer
// prompts.
type Retriever struct {
	store   *Store
	engine  embedding.Engine
	weights map[reviewid.ReviewerID]SectionWeights
}

// NewRetriever builds a Retriever over store using engine for similarity
// scoring and weights for the reviewer-keyed section weight table. The
// Retriever does not switch to another engine itself: an engine error makes
// Retrieve fail open with a warning.
func NewRetriever(store *Store, engine embedding.Engine, weights map[reviewid.ReviewerID]SectionWeights) *Retriever {
	return &Retriever{store: store, engine: engine, weights: weights}
}

// Retrieve returns up to topK ranked entries for reviewer, trimmed to fit
// tokenBudget, merging project and global tiers. On any retrieval failure
// (store read error, embedding error) it fails open and returns an empty
// slice plus a warning, per §7.
func (r *Retriever) Retrieve(ctx context.Context, reviewer reviewid.ReviewerID, query string, topK, tokenBudget int) (entries []Entry, warning string) {
	log := logging.Get(logging.CategoryKnowledge)

	project, err := r.store.Read(ctx, reviewer, TierProject)
	if err != nil {
		log.Warn("knowledge retrieval failed for %s/project: %v", reviewer, err)
		return nil, "knowledge retrieval failed for " + reviewer.String() + "/project: " + err.Error()
	}
	global, err := r.store.Read(ctx, reviewer, TierGlobal)
	if err != nil {
		log.Warn("knowledge retrieval failed for %s/global: %v", reviewer, err)
		return nil, "knowledge retrieval failed for " + reviewer.String() + "/global: " + err.Error()
	}

	weights := r.weights[reviewer]

	// Collect every candidate entry first, then embed query + all entries in
	// one batch call so every resulting vector shares the same
	// dimensionality (the TF-IDF fallback's vocabulary grows per call, so
	// embedding query and corpus separately would produce mismatched
	// lengths).
	type candidateSource struct {
		entry Entry
		tier  Tier
		sec   Section
	}
	// Iterate tiers and sections in a fixed order (not map range order) so
	// that entries tied on score keep a reproducible relative order after
	// the stable sort below; this only affects which entries get injected
	// into a reviewer prompt, not finalize_review determinism.
	var sources []candidateSource
	for _, tier := range []Tier{TierProject, TierGlobal} {
		sections := project
		if tier == TierGlobal {
			sections = global
		}
		for _, sec := range sectionOrder {
			for _, e := range sections[sec] {
				sources = append(sources, candidateSource{entry: e, tier: tier, sec: sec})
			}
		}
	}

	texts := make([]string, 0, len(sources)+1)
	texts = append(texts, query)
	for _, s := range sources {
		texts = append(texts, s.entry.Text)
	}

	vecs, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil {
		log.Warn("embedding query failed for %s: %v", reviewer, err)
		return nil, "embedding query failed for " + reviewer.String() + ": " + err.Error()
	}
	if len(vecs) != len(texts) {
		return nil, "embedding provider returned mismatched vector count for " + reviewer.String()
	}
	queryVec := vecs[0]

	var candidates []scoredEntry
	for i, s := range sources {
		sim, simErr := embedding.CosineSimilarity(queryVec, vecs[i+1])
		if simErr != nil {
			continue
		}
		candidates = append(candidates, scoredEntry{
			entry: s.entry,
			tier:  s.tier,
			score: sim * weights[s.sec],
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if topK > 0 && topK < len(candidates) {
		candidates = candidates[:topK]
	}

	return trimToBudget(candidates, tokenBudget), ""
}

// trimToBudget drops the lowest-weighted entries first until the remaining
// entries fit within tokenBudget, approximated as char-count/4.
func trimToBudget(candidates []scoredEntry, tokenBudget int) []Entry {
	if tokenBudget <= 0 {
		entries := make([]Entry, len(candidates))
		for i, c := range candidates {
			entries[i] = c.entry
		}
		return entries
	}

	used := 0
	var kept []Entry
	for _, c := range candidates { // already sorted highest-score first
		cost := (len(c.entry.Text) + charsPerToken - 1) / charsPerToken
		if used+cost > tokenBudget {
			break // remaining entries are the lowest-weighted; drop them
		}
		used += cost
		kept = append(kept, c.entry)
	}
	return kept
}
