package main

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "lctcache/internal/config"
	"lctcache/internal/diag"
	"lctcache/internal/extract"
)

// buildFlags: build 的覆盖项（0/空表示不覆盖）。
type buildFlags struct {
	sites       []string
	count       int
	iterations  int
	concurrency int
	seed        int64
	matcher     string
	tempDir     string
}

func (b *buildFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&b.sites, "sites", nil, "站点代码（逗号分隔；缺省为元数据表中的全部站点）")
	f.IntVar(&b.count, "count", 0, "每站点候选数（覆盖配置）")
	f.IntVar(&b.iterations, "iterations", 0, "匹配器迭代次数（覆盖配置）")
	f.IntVar(&b.concurrency, "concurrency", 0, "并行站点数（覆盖配置）")
	f.Int64Var(&b.seed, "seed", 0, "基础种子（覆盖配置；0 表示按站点派生）")
	f.StringVar(&b.matcher, "matcher", "", "匹配器实现名（覆盖配置）")
	f.StringVar(&b.tempDir, "temp-dir", "", "临时目录的父目录（覆盖配置）")
}

func (b *buildFlags) overlay() cfgpkg.Config {
	var over cfgpkg.Config
	over.Sites = b.sites
	over.Count = b.count
	over.Iterations = b.iterations
	over.Concurrency = b.concurrency
	over.Seed = b.seed
	over.Components.Matcher = b.matcher
	over.TempDir = b.tempDir
	return over
}

func newBuildCmd(g *globalFlags) *cobra.Command {
	b := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build init_lct_maps.zip for every selected site",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runBuild(cmd, g, b) },
	}
	b.register(cmd)
	return cmd
}

// runBuild: 配置 → 站点 → 比例提取 → 任务 → 装配 → 并行构建。
// 生成开始前的任何失败返回退出码 3。
func runBuild(cmd *cobra.Command, g *globalFlags, b *buildFlags) error {
	start := time.Now()
	corrID := uuid.NewString()
	stderr := cmd.ErrOrStderr()

	cfg, err := loadConfig(g, b.overlay())
	if err != nil {
		return preRun(err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		dumpConfig(stderr, cfg)
		return preRun(err)
	}

	logger := newLogger(corrID, cfg)
	defer logger.Close()
	logger.DebugStart("config", "effective", "", "", map[string]string{
		"data_root":   cfg.DataRoot,
		"count":       strconv.Itoa(cfg.Count),
		"iterations":  strconv.Itoa(cfg.Iterations),
		"concurrency": strconv.Itoa(cfg.Concurrency),
		"seed":        strconv.FormatInt(cfg.Seed, 10),
		"matcher":     cfg.Components.Matcher,
		"raster":      cfg.Components.Raster,
		"table":       cfg.Components.Table,
		"archive":     cfg.Components.Archive,
		"writer":      cfg.Components.Writer,
	})

	prep := logger.Start("pipeline", "prepare")
	sites, err := cfgpkg.ResolveSites(cfg)
	if err != nil {
		diag.Fail(logger, "config", "sites", err, prep, "", "")
		return preRun(err)
	}
	totals, err := extract.Extract(cmd.Context(), cfgpkg.Source(cfg), cfgpkg.Ages(cfg, sites))
	if err != nil {
		diag.Fail(logger, "extract", "proportions", err, prep, "", "")
		return preRun(err)
	}
	jobs, err := cfgpkg.Jobs(cfg, sites, totals)
	if err != nil {
		diag.Fail(logger, "config", "jobs", err, prep, "", "")
		return preRun(err)
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		diag.Fail(logger, "config", "assemble", err, prep, "", "")
		return preRun(err)
	}
	prep.Finish("prepare", int64(len(jobs)))

	term := diag.NewTerminal(stderr, g.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	if err := pipelineRun(cmd.Context(), comp, set, jobs, logger); err != nil {
		diag.ObserveDuration("pipeline", "error", time.Since(start).Milliseconds())
		if diag.PreRun(err) {
			return preRun(err)
		}
		return runFail(err)
	}
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	return nil
}

