package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"lctcache/pkg/contract"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 六个研究站点的定居年代与林线，林线以上为灌丛/草地各半；
// - 每站点 100 个候选、30 次迭代；数据根为 ./outputs；
// - 组件名采用仓库内置实现，选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	upland := func() *contract.Proportions {
		return &contract.Proportions{Shrubland: 0.5, Grassland: 0.5}
	}
	tl := func(m int) *int { return &m }

	cfg := d
	cfg.DataRoot = "outputs"
	cfg.Logging = Logging{Level: "info", Dir: "logs"}
	cfg.Site = map[string]Site{
		"navarres":            {SettlementAge: 7000, Treeline: tl(400), Upland: upland()},
		"charco_da_candieira": {SettlementAge: 6500, Treeline: tl(1700), Upland: upland()},
		"atxuri":              {SettlementAge: 5000, Treeline: tl(600), Upland: upland()},
		"monte_areo_mire":     {SettlementAge: 7300},
		"algendar":            {SettlementAge: 5000},
		"san_rafael":          {SettlementAge: 5000, Treeline: tl(400), Upland: upland()},
	}
	cfg.Options = Options{
		Matcher: mustNode("connectivity: conn4\nswap_fraction: 0.25"),
		Raster:  mustNode("ext: asc\nbuf_size: 65536"),
		Table:   mustNode("delimiter: \",\"\nprecision: -1"),
		Archive: mustNode("method: deflate"),
		Writer:  mustNode("atomic: true\nperm_file: 0\nperm_dir: 0\nbuf_size: 65536"),
		Preview: mustNode("scale: 4\nlegend: true"),
	}
	return cfg
}

// MarshalYAML 以两空格缩进输出配置文本。
func MarshalYAML(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TemplateEnv 返回 .env 模板（全部键注释掉，按需启用）。
func TemplateEnv() string {
	keys := []string{
		"DATA_ROOT=outputs",
		"SITES=navarres,atxuri",
		"COUNT=100",
		"ITERATIONS=30",
		"CONCURRENCY=2",
		"SEED=0",
		"TEMP_DIR=",
		"LOG_LEVEL=info",
		"LOG_DIR=logs",
		"COMPONENTS_MATCHER=nlm",
		"COMPONENTS_RASTER=asc",
		"COMPONENTS_TABLE=csv",
		"COMPONENTS_ARCHIVE=zip",
		"COMPONENTS_WRITER=fs",
		"COMPONENTS_PREVIEW=png",
	}
	var b strings.Builder
	b.WriteString("# lctcache 环境变量（优先级高于配置文件，低于命令行参数）\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "# %s%s\n", EnvPrefix, k)
	}
	return b.String()
}

func mustNode(src string) *yaml.Node {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil || len(doc.Content) == 0 {
		panic(fmt.Sprintf("config: bad options template %q: %v", src, err))
	}
	return doc.Content[0]
}
