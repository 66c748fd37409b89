package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sam-fakhreddine/consensus-review/internal/config"
	"github.com/sam-fakhreddine/consensus-review/internal/embedding"
	"github.com/sam-fakhreddine/consensus-review/internal/knowledge"
	"github.com/sam-fakhreddine/consensus-review/internal/orchestrator"
	"github.com/sam-fakhreddine/consensus-review/internal/reviewid"
)

const reviewDirName = ".review"

func reviewDir() string {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	return filepath.Join(ws, reviewDirName)
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(reviewDir(), "config.yaml")
	}
	return config.Load(path)
}

// buildOrchestrator wires the full engine from config: knowledge store,
// embedding engine, retriever, writer, and history checker. The embedding
// engine is always the TF-IDF engine, behind the on-disk cache when
// cache_db_path is set; the embedding provider, timeout and genai model
// settings are not read here, so GenAIEngine is never used by the CLI.
func buildOrchestrator(cfg config.Config) *orchestrator.Orchestrator {
	rootDir := reviewDir()
	knowledgeDir := filepath.Join(rootDir, "knowledge")
	lockTimeout := time.Duration(cfg.Knowledge.LockTimeoutMS) * time.Millisecond

	store := knowledge.NewStore(knowledgeDir, lockTimeout)

	var engine embedding.Engine = embedding.NewTFIDFEngine()
	cachePath := cfg.Embedding.CacheDBPath
	if cachePath != "" {
		if !filepath.IsAbs(cachePath) {
			cachePath = filepath.Join(rootDir, filepath.Base(cachePath))
		}
		if cache, err := embedding.OpenCache(cachePath); err == nil {
			engine = &embedding.CachedEngine{Engine: engine, Cache: cache}
		}
	}

	weights := make(map[reviewid.ReviewerID]knowledge.SectionWeights, len(reviewid.All))
	for _, id := range reviewid.All {
		sw := cfg.SectionWeights[id.String()]
		weights[id] = knowledge.SectionWeights{
			knowledge.SectionPatternsFound:      sw.PatternsFound,
			knowledge.SectionFalsePositives:     sw.FalsePositives,
			knowledge.SectionIncidentsPrevented: sw.IncidentsPrevented,
			knowledge.SectionRepositoryRules:    sw.RepositoryRules,
			knowledge.SectionCodebaseContext:    sw.CodebaseContext,
		}
	}

	retriever := knowledge.NewRetriever(store, engine, weights)
	writer := knowledge.NewWriter(store, time.Now)
	history := knowledge.NewHistoryChecker(store)

	workspaceRoot := filepath.Join(rootDir, "workspaces")

	return orchestrator.New(cfg, store, retriever, writer, history, nil, nil, workspaceRoot, time.Now)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
