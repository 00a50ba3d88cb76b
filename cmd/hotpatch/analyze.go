package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hotpatch/internal/analyzer"
	"hotpatch/internal/capability"
	"hotpatch/internal/classify"
	"hotpatch/internal/config"
	"hotpatch/internal/diag"
	"hotpatch/internal/identity"
	"hotpatch/internal/logging"
	"hotpatch/internal/oracle"
	"hotpatch/internal/queue"
	"hotpatch/internal/storage"
)

var (
	analyzeOldDir      string
	analyzeNewDir      string
	analyzeModule      string
	analyzeFormat      string
	analyzePolicyPath  string
	analyzeProfilePath string
	analyzeNoStore     bool
	analyzeTimeoutSec  int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze edits between two source trees",
	Long: `Analyze every edited document between an old and a new source tree and
report, per document, whether the edit applies cleanly, what semantic
edits it takes, or why it is rejected.

Examples:
  # Analyze all edits between two checkouts
  hotpatch analyze --old ./baseline --new ./worktree --module app

  # Machine-readable output with a custom severity policy
  hotpatch analyze --old a --new b --policy policy.yaml --format json`,
	Run: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeOldDir, "old", "", "Baseline source tree (required)")
	analyzeCmd.Flags().StringVar(&analyzeNewDir, "new", "", "Edited source tree (required)")
	analyzeCmd.Flags().StringVar(&analyzeModule, "module", "app", "Module name the documents belong to")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "human", "Output format: json or human")
	analyzeCmd.Flags().StringVar(&analyzePolicyPath, "policy", "", "YAML severity policy override")
	analyzeCmd.Flags().StringVar(&analyzeProfilePath, "profile", "", "TOML capability profile for the target runtime")
	analyzeCmd.Flags().BoolVar(&analyzeNoStore, "no-store", false, "Skip the persistent result store")
	analyzeCmd.Flags().IntVar(&analyzeTimeoutSec, "timeout", 120, "Overall timeout in seconds")
	analyzeCmd.MarkFlagRequired("old")
	analyzeCmd.MarkFlagRequired("new")

	rootCmd.AddCommand(analyzeCmd)
}

type documentReport struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	Cached      bool   `json:"cached,omitempty"`
	Diagnostics int    `json:"diagnostics"`
	Edits       int    `json:"edits"`
	Detail      string `json:"detail,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg, logger, err := loadSetup()
	if err != nil {
		fatal(logger, "failed to load configuration", err)
	}

	an, err := buildAnalyzer(cfg, logger)
	if err != nil {
		fatal(logger, "failed to build analyzer", err)
	}
	capsLazy, err := buildCapabilities(cfg)
	if err != nil {
		fatal(logger, "failed to load capability profile", err)
	}

	store := openStore(cfg, logger)

	q := queue.New(queue.Config{
		FaultPolicy: faultPolicyFromConfig(cfg),
		Backlog:     cfg.Queue.Backlog,
		Logger:      logger,
	})
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	defer q.Shutdown(shutdownCtx)

	pairs, err := collectPairs(analyzeOldDir, analyzeNewDir)
	if err != nil {
		fatal(logger, "failed to scan source trees", err)
	}
	if len(pairs) == 0 {
		fmt.Println("no analyzable documents found")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(analyzeTimeoutSec)*time.Second)
	defer cancel()

	var mu sync.Mutex
	var reports []documentReport

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			out, err := q.Submit(gctx, func(ctx context.Context, turn *queue.Turn) (any, error) {
				return analyzeOne(ctx, an, store, turn, p, capsLazy)
			})
			if err != nil {
				return fmt.Errorf("%s: %w", p.rel, err)
			}
			mu.Lock()
			reports = append(reports, out.(documentReport))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fatal(logger, "analysis failed", err)
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Path < reports[j].Path })
	emitReports(reports, time.Since(start))
}

type docPair struct {
	rel string
	old oracle.Snapshot
	new oracle.Snapshot
}

// collectPairs walks the new tree and pairs each analyzable document
// with its counterpart in the old tree. Documents that exist on only
// one side are skipped; edits to them are whole-document operations,
// not in-place patches.
func collectPairs(oldDir, newDir string) ([]docPair, error) {
	var pairs []docPair
	err := filepath.WalkDir(newDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		lang, ok := languageFor(path)
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(newDir, path)
		if err != nil {
			return err
		}
		oldPath := filepath.Join(oldDir, rel)
		oldContent, err := os.ReadFile(oldPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		newContent, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pairs = append(pairs, docPair{
			rel: rel,
			old: oracle.Snapshot{UnitID: rel, Path: rel, Lang: lang, Content: oldContent, Version: 1},
			new: oracle.Snapshot{UnitID: rel, Path: rel, Lang: lang, Content: newContent, Version: 2},
		})
		return nil
	})
	return pairs, err
}

func languageFor(path string) (oracle.Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return oracle.LangGo, true
	case ".js", ".mjs":
		return oracle.LangJavaScript, true
	}
	return "", false
}

func analyzeOne(ctx context.Context, an *analyzer.DocumentAnalyzer, store *storage.ResultStore, turn *queue.Turn, p docPair, caps *analyzer.Lazy[capability.Set]) (documentReport, error) {
	oldHash, newHash := p.old.Hash(), p.new.Hash()
	if store != nil {
		if rec, ok, err := store.Get(p.rel, oldHash, newHash); err == nil && ok {
			return documentReport{
				Path:        p.rel,
				Kind:        rec.Kind,
				Cached:      true,
				Diagnostics: len(rec.Diagnostics),
				Edits:       len(rec.SemanticEdits),
			}, nil
		}
	}

	res, err := an.Analyze(ctx, analyzer.Request{
		UnitID:       p.rel,
		Old:          p.old,
		New:          p.new,
		Capabilities: caps,
		Constraints:  turn.Constraints,
	})
	if err != nil {
		return documentReport{}, err
	}

	rep := documentReport{
		Path:        p.rel,
		Kind:        res.Kind().String(),
		Diagnostics: len(res.Diagnostics()),
	}
	rec := storage.AnalysisRecord{
		UnitID:      p.rel,
		FilePath:    res.FilePath(),
		Kind:        res.Kind().String(),
		Diagnostics: res.Diagnostics(),
	}

	if edits, ok := res.SemanticEdits(); ok {
		rep.Edits = len(edits)
		rec.SemanticEdits = edits
		rec.RequiredCapabilities = res.RequiredCapabilities()
		if lineEdits, ok := res.LineEdits(); ok {
			rec.LineEdits = lineEdits
		}
	}
	if first := res.FirstSyntaxError(); first != nil {
		rep.Detail = fmt.Sprintf("%s: %s", first.Location.String(), first.Message)
	} else if res.HasBlockingDiagnostic() {
		for _, d := range res.Diagnostics() {
			if d.Severity == diag.SevBlocking {
				rep.Detail = d.Message
				break
			}
		}
	}

	if store != nil {
		if err := store.Put(oldHash, newHash, rec); err != nil {
			return rep, fmt.Errorf("persisting result for %s: %w", p.rel, err)
		}
	}
	return rep, nil
}

func buildAnalyzer(cfg *config.Config, logger *logging.Logger) (*analyzer.DocumentAnalyzer, error) {
	policyPath := analyzePolicyPath
	if policyPath == "" {
		policyPath = cfg.Analysis.PolicyPath
	}
	policy := classify.DefaultPolicy()
	if policyPath != "" {
		loaded, err := classify.LoadPolicy(policyPath)
		if err != nil {
			return nil, err
		}
		policy = loaded
	}
	orc := oracle.NewTreeSitter(identity.ModuleID(analyzeModule))
	return analyzer.New(orc, classify.New(policy), logger.With(map[string]any{"component": "analyzer"})), nil
}

func buildCapabilities(cfg *config.Config) (*analyzer.Lazy[capability.Set], error) {
	profilePath := analyzeProfilePath
	if profilePath == "" {
		profilePath = cfg.Analysis.ProfilePath
	}
	if profilePath == "" {
		return analyzer.Resolved(capability.All()), nil
	}
	profile, err := capability.LoadProfile(profilePath)
	if err != nil {
		return nil, err
	}
	return analyzer.NewLazy(func(ctx context.Context) (capability.Set, error) {
		return profile.SupportedCapabilities(ctx)
	}), nil
}

func openStore(cfg *config.Config, logger *logging.Logger) *storage.ResultStore {
	if analyzeNoStore || !cfg.Storage.Enabled {
		return nil
	}
	db, err := storage.Open(repoFlag, logger)
	if err != nil {
		logger.Warn("result store unavailable, continuing without it", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	store, err := storage.NewResultStore(db)
	if err != nil {
		db.Close()
		logger.Warn("result store unavailable, continuing without it", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	if cfg.Storage.PruneAfterHr > 0 {
		store.Prune(time.Duration(cfg.Storage.PruneAfterHr) * time.Hour)
	}
	return store
}

func faultPolicyFromConfig(cfg *config.Config) queue.FaultPolicy {
	if cfg.Queue.FaultPolicy == "suppress" {
		return queue.SuppressAndLog
	}
	return queue.PropagateFaults
}

func emitReports(reports []documentReport, elapsed time.Duration) {
	if analyzeFormat == "json" {
		out, _ := json.MarshalIndent(map[string]any{
			"documents": reports,
			"elapsedMs": elapsed.Milliseconds(),
		}, "", "  ")
		fmt.Println(string(out))
		return
	}

	counts := map[string]int{}
	for _, r := range reports {
		counts[r.Kind]++
		line := fmt.Sprintf("%-12s %s", r.Kind, r.Path)
		if r.Cached {
			line += " (cached)"
		}
		if r.Detail != "" {
			line += "\n             " + r.Detail
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d documents in %s", len(reports), elapsed.Round(time.Millisecond))
	var kinds []string
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %s=%d", k, counts[k])
	}
	fmt.Println()
}

func fatal(logger *logging.Logger, msg string, err error) {
	if logger == nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	} else {
		logger.Error(msg, map[string]any{"error": err.Error()})
	}
	os.Exit(1)
}
