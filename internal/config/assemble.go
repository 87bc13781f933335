package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"lctcache/internal/diag"
	"lctcache/internal/extract"
	"lctcache/internal/pipeline"
	"lctcache/pkg/contract"
	"lctcache/pkg/registry"
)

// Validate 对配置做静态校验；在任何生成开始前调用。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DataRoot) == "" {
		return configErr("data_root not set")
	}
	if cfg.Count < 1 {
		return configErr("count must be >= 1, got %d", cfg.Count)
	}
	if cfg.Iterations < 1 || cfg.Iterations > contract.MaxIterations {
		return configErr("iterations must be in [1, %d], got %d", contract.MaxIterations, cfg.Iterations)
	}
	if cfg.Concurrency < 1 {
		return configErr("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if !diag.ValidLevel(cfg.Logging.Level) {
		return configErr("logging.level %q (want debug, info, warn or error)", cfg.Logging.Level)
	}
	for _, s := range cfg.Sites {
		if strings.TrimSpace(s) == "" {
			return configErr("site code cannot be empty")
		}
		if _, ok := cfg.Site[s]; !ok {
			return &contract.MissingSiteDataError{Site: s, What: "settlement age" + hint(s, siteKeys(cfg))}
		}
	}
	for _, code := range siteKeys(cfg) {
		if _, err := siteParams(code, cfg.Site[code]); err != nil {
			return err
		}
	}
	d := Defaults()
	checks := []struct {
		kind, name string
		names      []string
	}{
		{"matcher", effName(cfg.Components.Matcher, d.Components.Matcher), registry.Names(registry.Matcher)},
		{"raster", effName(cfg.Components.Raster, d.Components.Raster), registry.Names(registry.Raster)},
		{"table", effName(cfg.Components.Table, d.Components.Table), registry.Names(registry.Table)},
		{"archive", effName(cfg.Components.Archive, d.Components.Archive), registry.Names(registry.Archive)},
		{"writer", effName(cfg.Components.Writer, d.Components.Writer), registry.Names(registry.Writer)},
		{"preview", effName(cfg.Components.Preview, d.Components.Preview), registry.Names(registry.Preview)},
	}
	for _, c := range checks {
		if !slices.Contains(c.names, c.name) {
			return configErr("%s %q not registered%s", c.kind, c.name, hint(c.name, c.names))
		}
	}
	return nil
}

// siteParams 校验单站点参数并返回（可选的）林线与高地组成。
func siteParams(code string, s Site) (*contract.ProportionRecord, error) {
	if s.SettlementAge <= 0 {
		return nil, &contract.MissingSiteDataError{Site: code, What: "settlement age"}
	}
	switch {
	case s.Treeline == nil && s.Upland == nil:
		return nil, nil
	case s.Treeline == nil:
		return nil, configErr("site %q: upland proportions given without a treeline", code)
	case s.Upland == nil:
		return nil, configErr("site %q: treeline %d m given without upland proportions", code, *s.Treeline)
	}
	up, err := contract.NewSiteProportionRecord(code, *s.Upland)
	if err != nil {
		return nil, err
	}
	return &up, nil
}

// Assemble 构造流水线组件与设置。
// 严格 options 解析在 registry（工厂）层进行；此处只传 YAML 子树。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()

	m, err := registry.Matcher[effName(cfg.Components.Matcher, d.Components.Matcher)](cfg.Options.Matcher)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("matcher: %w", err)
	}
	rc, err := registry.Raster[effName(cfg.Components.Raster, d.Components.Raster)](cfg.Options.Raster)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("raster: %w", err)
	}
	tw, err := registry.Table[effName(cfg.Components.Table, d.Components.Table)](cfg.Options.Table)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("table: %w", err)
	}
	ar, err := registry.Archive[effName(cfg.Components.Archive, d.Components.Archive)](cfg.Options.Archive)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("archive: %w", err)
	}
	// writer 未指定输出根时写回数据根（与站点数据同目录）。
	wnode := withDefault(cfg.Options.Writer, "output_dir", cfg.DataRoot)
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](wnode)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer: %w", err)
	}

	comp := pipeline.Components{Matcher: m, Raster: rc, Table: tw, Archive: ar, Writer: w}
	set := pipeline.Settings{
		Count:       cfg.Count,
		Iterations:  cfg.Iterations,
		Seed:        cfg.Seed,
		Concurrency: cfg.Concurrency,
		TempDir:     cfg.TempDir,
		MatcherName: effName(cfg.Components.Matcher, d.Components.Matcher),
	}
	return comp, set, nil
}

// Preview 构造快览渲染器与读取用栅格编解码器。
func Preview(cfg Config) (contract.Previewer, contract.RasterCodec, error) {
	d := Defaults()
	name := effName(cfg.Components.Preview, d.Components.Preview)
	newPreview := registry.Preview[name]
	if newPreview == nil {
		return nil, nil, configErr("preview %q not registered%s", name, hint(name, registry.Names(registry.Preview)))
	}
	p, err := newPreview(cfg.Options.Preview)
	if err != nil {
		return nil, nil, fmt.Errorf("preview: %w", err)
	}
	rname := effName(cfg.Components.Raster, d.Components.Raster)
	newRaster := registry.Raster[rname]
	if newRaster == nil {
		return nil, nil, configErr("raster %q not registered%s", rname, hint(rname, registry.Names(registry.Raster)))
	}
	rc, err := newRaster(cfg.Options.Raster)
	if err != nil {
		return nil, nil, fmt.Errorf("raster: %w", err)
	}
	return p, rc, nil
}

// Source 返回比例提取的数据源。
func Source(cfg Config) extract.Source {
	return extract.Source{Root: cfg.DataRoot, MetadataFile: cfg.Files.Metadata, TimeSeriesFile: cfg.Files.TimeSeries}
}

// ResolveSites 返回本次运行的站点：显式列表，或元数据表中的全部站点。
// 每个站点都必须配置定居年代。
func ResolveSites(cfg Config) ([]string, error) {
	sites := cloneStrings(cfg.Sites)
	if len(sites) == 0 {
		found, err := extract.SiteCodes(Source(cfg))
		if err != nil {
			return nil, err
		}
		sites = found
	}
	if len(sites) == 0 {
		return nil, configErr("no sites selected")
	}
	for _, s := range sites {
		if _, ok := cfg.Site[s]; !ok {
			return nil, &contract.MissingSiteDataError{Site: s, What: "settlement age" + hint(s, siteKeys(cfg))}
		}
	}
	return sites, nil
}

// Ages 返回站点 → 定居年代。
func Ages(cfg Config, sites []string) map[string]int {
	out := make(map[string]int, len(sites))
	for _, s := range sites {
		out[s] = cfg.Site[s].SettlementAge
	}
	return out
}

// Jobs 由提取出的全景比例构造站点任务（顺序同 sites）。
func Jobs(cfg Config, sites []string, totals map[string]contract.ProportionRecord) ([]pipeline.Job, error) {
	archive := effName(cfg.Files.Archive, Defaults().Files.Archive)
	dem := effName(cfg.Files.DEM, Defaults().Files.DEM)
	jobs := make([]pipeline.Job, 0, len(sites))
	for _, s := range sites {
		total, ok := totals[s]
		if !ok {
			return nil, &contract.MissingSiteDataError{Site: s, What: "land-cover proportions"}
		}
		sp := cfg.Site[s]
		up, err := siteParams(s, sp)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, pipeline.Job{
			Site:      s,
			DEMPath:   filepath.Join(cfg.DataRoot, s, dem),
			ArchiveID: contract.ArtifactID(s + "/" + archive),
			Total:     total,
			Treeline:  sp.Treeline,
			Upland:    up,
		})
	}
	return jobs, nil
}

func siteKeys(cfg Config) []string {
	keys := make([]string, 0, len(cfg.Site))
	for k := range cfg.Site {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// withDefault 在 options 映射缺少 key 时补上默认值；原节点不被修改。
func withDefault(node *yaml.Node, key, val string) *yaml.Node {
	if node == nil || node.Kind == 0 {
		node = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	if node.Kind != yaml.MappingNode {
		return node
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node
		}
	}
	cp := *node
	cp.Content = append(append([]*yaml.Node(nil), node.Content...),
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: val},
	)
	return &cp
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: config: %s", contract.ErrConfig, fmt.Sprintf(format, args...))
}

func hint(s string, candidates []string) string {
	if h := contract.Suggest(s, candidates); h != "" {
		return fmt.Sprintf(" (did you mean %q?)", h)
	}
	return ""
}

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return strings.TrimSpace(got)
}
