package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"misinfo-twitter/src/filter"
	"misinfo-twitter/src/geo"
	"misinfo-twitter/src/pipeline"
)

// runner executes pipeline stages for one run
type runner struct {
	cfg            *Config
	runID          string
	keywordsFilter bool

	// fallback overrides the HTML fallback used by the expand stage
	fallback pipeline.Fallback
}

// stagesFor expands a mode into the stages it runs, in order.
func stagesFor(mode string) []string {
	if mode == StageAll {
		return []string{StageBuild, StageExpand, StageMerge, StageAccounts}
	}
	return []string{mode}
}

func (r *runner) run(ctx context.Context, mode string) error {
	for _, stage := range stagesFor(mode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		slog.Info("Stage starting", "stage", stage, "run_id", r.runID)

		st, err := r.runStage(ctx, stage)
		st.Stage = stage
		if err != nil && st.Errors == 0 {
			st.Errors = 1
		}
		printStats(r.runID, st, time.Since(start))
		if err != nil {
			return fmt.Errorf("%s stage: %w", stage, err)
		}
		slog.Info("Stage finished", "stage", stage, "duration", time.Since(start))
	}
	return nil
}

func (r *runner) runStage(ctx context.Context, stage string) (stageStats, error) {
	switch stage {
	case StageBuild:
		return r.build()
	case StageExpand:
		return r.expand(ctx)
	case StageMerge:
		return r.merge(ctx)
	case StageAccounts:
		return r.accounts()
	case StageIngest:
		return runIngest(ctx, r.cfg)
	}
	return stageStats{}, fmt.Errorf("unknown stage %q", stage)
}

func (r *runner) build() (stageStats, error) {
	var st stageStats
	if r.cfg.KeywordsFile == "" {
		return st, fmt.Errorf("'keywords_file' must be set to build tables")
	}
	keywords, err := filter.LoadKeywords(r.cfg.KeywordsFile)
	if err != nil {
		return st, err
	}

	var resolver geo.Resolver
	if r.cfg.GazetteerFile != "" {
		gz, err := geo.LoadGazetteer(r.cfg.GazetteerFile)
		if err != nil {
			return st, err
		}
		resolver = gz
	} else {
		slog.Warn("No gazetteer_file configured, every location will be unresolved")
	}

	start, end, err := r.cfg.Window()
	if err != nil {
		return st, err
	}
	files, err := pipeline.ListInputFiles(r.cfg.TweetDir, start, end)
	if err != nil {
		return st, err
	}
	slog.Info("Building tables", "files", len(files), "tables_dir", r.cfg.TablesDir)

	sum := pipeline.NewTableBuilder(keywords, resolver, r.cfg.TablesDir).BuildAll(files)
	st.Records, st.Skipped, st.Rows = sum.Records()
	st.Errors = sum.Failed
	if sum.Failed > 0 && len(sum.Files) == 0 && sum.AlreadyDone == 0 {
		return st, fmt.Errorf("all %d input files failed", sum.Failed)
	}
	return st, nil
}

// openURLStore returns the configured cache store and a function releasing it.
func openURLStore(ctx context.Context, cfg *Config) (pipeline.URLStore, func(), error) {
	if cfg.URLCacheBackend == "redis" {
		s, err := pipeline.NewRedisURLStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return pipeline.NewFileURLStore(cfg.URLCacheFile), func() {}, nil
}

func (r *runner) tableDays() ([]string, error) {
	start, end, err := r.cfg.Window()
	if err != nil {
		return nil, err
	}
	return pipeline.ListTableDays(r.cfg.TablesDir, start, end)
}

func (r *runner) expand(ctx context.Context) (stageStats, error) {
	var st stageStats
	store, release, err := openURLStore(ctx, r.cfg)
	if err != nil {
		return st, err
	}
	defer release()

	cache, err := pipeline.LoadURLCache(ctx, store)
	if err != nil {
		return st, err
	}
	days, err := r.tableDays()
	if err != nil {
		return st, err
	}
	urls, err := pipeline.CollectShortURLs(r.cfg.TablesDir, days, pipeline.NewSetFilter(r.cfg.ShortLinkServices))
	if err != nil {
		return st, err
	}

	fallback := r.fallback
	if fallback == nil {
		fallback = pipeline.NewHTMLFallback(r.cfg.HTTPTimeout())
	}
	e := pipeline.NewExpander(r.cfg.HTTPTimeout(), r.cfg.ExpandWorkers, fallback)
	es := e.Update(ctx, cache, urls)
	st.Records = es.Candidates
	st.Rows = es.Expanded
	st.Skipped = es.Cached

	// Saved even when interrupted so finished expansions are kept
	if err := store.Save(context.WithoutCancel(ctx), cache.Snapshot()); err != nil {
		return st, err
	}
	slog.Info("Url cache saved", "entries", cache.Len(), "changed", es.Changed)
	return st, nil
}

func (r *runner) merge(ctx context.Context) (stageStats, error) {
	var st stageStats
	store, release, err := openURLStore(ctx, r.cfg)
	if err != nil {
		return st, err
	}
	defer release()

	cache, err := pipeline.LoadURLCache(ctx, store)
	if err != nil {
		return st, err
	}

	var lowCred pipeline.DomainFilter
	if r.cfg.LowCredFile != "" {
		list, err := pipeline.LoadLowCredList(r.cfg.LowCredFile)
		if err != nil {
			return st, err
		}
		lowCred = list
	} else {
		slog.Warn("No low_cred_file configured, no tweet will be flagged")
	}

	days, err := r.tableDays()
	if err != nil {
		return st, err
	}
	ms, err := pipeline.NewMerger(r.cfg.TablesDir, cache, lowCred).Merge(days, r.cfg.MergedTablePath())
	st.Records = ms.Tweets
	st.Rows = ms.Rows
	return st, err
}

func (r *runner) accounts() (stageStats, error) {
	var st stageStats
	rows, err := pipeline.ReadMergedTable(r.cfg.MergedTablePath())
	if err != nil {
		return st, err
	}
	opts := pipeline.AggregateOptions{Country: r.cfg.TargetCountry}
	if r.keywordsFilter {
		opts.Keywords = r.cfg.FilterKeywords
	}
	summaries := pipeline.Aggregate(rows, opts)

	path := pipeline.AccountTablePath(r.cfg.IntermediateDir, r.cfg.CountryCode, r.keywordsFilter)
	if err := pipeline.WriteAccountTable(path, summaries); err != nil {
		return st, err
	}
	st.Records = len(rows)
	st.Rows = len(summaries)
	return st, nil
}
