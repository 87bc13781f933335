package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"lctcache/pkg/contract"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "LCTCACHE_"

// DefaultConfigFile: 未指定配置文件时在工作目录查找的文件名。
const DefaultConfigFile = "lctcache.yaml"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：data_root 与站点参数不设默认（必须由 YAML/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Count:       100,
		Iterations:  30,
		Concurrency: 1,
		Logging:     Logging{Level: "info"},
		Files: Files{
			Metadata:   "site_metadata.csv",
			TimeSeries: "lct_pct_ts.csv",
			DEM:        "hydrocorrect_dem.asc",
			Archive:    "init_lct_maps.zip",
		},
		Components: Components{
			Matcher: "nlm",
			Raster:  "asc",
			Table:   "csv",
			Archive: "zip",
			Writer:  "fs",
			Preview: "png",
		},
	}
}

// LoadYAML 从文件路径或原始 YAML 解析 Config（严格拒绝未知字段）。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: %s: %v", contract.ErrConfig, sourceName(path), err)
	}
	return cfg, nil
}

func sourceName(path string) string {
	if path == "" {
		return "inline config"
	}
	return path
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串/options 子树为“替换”；site 表按键替换，不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.DataRoot); s != "" {
		out.DataRoot = s
	}
	if len(over.Sites) > 0 {
		out.Sites = cloneStrings(over.Sites)
	}
	if over.Count != 0 {
		out.Count = over.Count
	}
	if over.Iterations != 0 {
		out.Iterations = over.Iterations
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.Seed != 0 {
		out.Seed = over.Seed
	}
	if s := strings.TrimSpace(over.TempDir); s != "" {
		out.TempDir = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 文件名（空不覆盖）
	if over.Files.Metadata != "" {
		out.Files.Metadata = over.Files.Metadata
	}
	if over.Files.TimeSeries != "" {
		out.Files.TimeSeries = over.Files.TimeSeries
	}
	if over.Files.DEM != "" {
		out.Files.DEM = over.Files.DEM
	}
	if over.Files.Archive != "" {
		out.Files.Archive = over.Files.Archive
	}

	// 站点（完整替换对应键）
	if len(over.Site) > 0 {
		m := make(map[string]Site, len(out.Site)+len(over.Site))
		for k, v := range out.Site {
			m[k] = v
		}
		for k, v := range over.Site {
			m[k] = v
		}
		out.Site = m
	}

	// 组件名（空不覆盖）
	if over.Components.Matcher != "" {
		out.Components.Matcher = over.Components.Matcher
	}
	if over.Components.Raster != "" {
		out.Components.Raster = over.Components.Raster
	}
	if over.Components.Table != "" {
		out.Components.Table = over.Components.Table
	}
	if over.Components.Archive != "" {
		out.Components.Archive = over.Components.Archive
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Preview != "" {
		out.Components.Preview = over.Components.Preview
	}

	// Options（完整替换对应键）
	if over.Options.Matcher != nil {
		out.Options.Matcher = over.Options.Matcher
	}
	if over.Options.Raster != nil {
		out.Options.Raster = over.Options.Raster
	}
	if over.Options.Table != nil {
		out.Options.Table = over.Options.Table
	}
	if over.Options.Archive != nil {
		out.Options.Archive = over.Options.Archive
	}
	if over.Options.Writer != nil {
		out.Options.Writer = over.Options.Writer
	}
	if over.Options.Preview != nil {
		out.Options.Preview = over.Options.Preview
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 LCTCACHE_；集合之外的键忽略；数值无法解析时报配置错误。
// 支持：DATA_ROOT, SITES, COUNT, ITERATIONS, CONCURRENCY, SEED, TEMP_DIR,
// LOG_LEVEL, LOG_DIR, COMPONENTS_*。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := strings.TrimSpace(kv[eq+1:])
		var err error
		switch strings.TrimPrefix(key, EnvPrefix) {
		case "DATA_ROOT":
			over.DataRoot = val
		case "SITES":
			over.Sites = splitComma(val)
		case "COUNT":
			over.Count, err = atoi(val)
		case "ITERATIONS":
			over.Iterations, err = atoi(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "SEED":
			if val != "" {
				over.Seed, err = strconv.ParseInt(val, 10, 64)
			}
		case "TEMP_DIR":
			over.TempDir = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "COMPONENTS_MATCHER":
			over.Components.Matcher = val
		case "COMPONENTS_RASTER":
			over.Components.Raster = val
		case "COMPONENTS_TABLE":
			over.Components.Table = val
		case "COMPONENTS_ARCHIVE":
			over.Components.Archive = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_PREVIEW":
			over.Components.Preview = val
		}
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", contract.ErrConfig, key, val, err)
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// splitComma 以逗号切分并去除空白项。
func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// atoi: 空串视为 0（未设置）。
func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
