package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"lctcache/internal/diag"
	"lctcache/pkg/contract"
)

// RunSites 并行构建多个站点（并行度 = Settings.Concurrency）。
// 所有任务先统一校验，任一不合法则不开始生成；首个错误取消其余站点。
func RunSites(ctx context.Context, comp Components, set Settings, jobs []Job, logger *diag.Logger) error {
	seen := make(map[contract.ArtifactID]string, len(jobs))
	for _, job := range jobs {
		if _, err := Prepare(comp, set, job); err != nil {
			diag.Fail(logger, "pipeline", "prepare", err, nil, job.Site, "")
			return err
		}
		if prev, dup := seen[job.ArchiveID]; dup {
			err := fmt.Errorf("%w: sites %q and %q share archive %q", contract.ErrConfig, prev, job.Site, job.ArchiveID)
			diag.Fail(logger, "pipeline", "prepare", err, nil, job.Site, "")
			return err
		}
		seen[job.ArchiveID] = job.Site
	}

	limit := set.Concurrency
	if limit <= 0 {
		limit = 1
	}
	term := diag.GetTerminal()
	term.RunStart(limit, set.MatcherName, len(jobs))
	start := time.Now()
	rt := logger.Start("pipeline", "run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, job := range jobs {
		job := job
		g.Go(func() error { return Build(gctx, comp, set, job, logger) })
	}
	err := g.Wait()
	term.RunFinish(err == nil, time.Since(start))
	if err != nil {
		return err
	}
	rt.Finish("run", int64(len(jobs)))
	return nil
}
