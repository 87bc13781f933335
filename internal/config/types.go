package config

import (
	"gopkg.in/yaml.v3"

	"lctcache/pkg/contract"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// DataRoot: 数据根目录（元数据、站点时间序列与 DEM 所在）。
	DataRoot string `yaml:"data_root"`
	// Sites: 显式站点列表；为空时从元数据表发现全部站点。
	Sites       []string `yaml:"sites,omitempty"`
	Count       int      `yaml:"count"`
	Iterations  int      `yaml:"iterations"`
	Concurrency int      `yaml:"concurrency"`
	// Seed: 基础种子；0 表示按站点代码派生。
	Seed    int64   `yaml:"seed"`
	TempDir string  `yaml:"temp_dir,omitempty"`
	Logging Logging `yaml:"logging"`
	Files   Files   `yaml:"files"`

	// Site: 每站点参数（定居年代、林线与高地组成）。
	Site map[string]Site `yaml:"site"`

	// 组件名选择（空则使用默认名）。
	Components Components `yaml:"components"`
	// 各组件 options 子树，原样传入工厂。
	Options Options `yaml:"options"`
}

// Logging: 日志等级与目录。
type Logging struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
}

// Files: 数据根下的文件名约定。
type Files struct {
	// Metadata: 站点元数据表（位于数据根）。
	Metadata string `yaml:"metadata"`
	// TimeSeries: 地类百分比时间序列（位于 <data_root>/<site>/）。
	TimeSeries string `yaml:"time_series"`
	// DEM: 基础高程栅格（位于 <data_root>/<site>/）。
	DEM string `yaml:"dem"`
	// Archive: 缓存归档名（写入 <site>/，相对 writer 输出根）。
	Archive string `yaml:"archive"`
}

// Site: 单站点参数。Treeline 与 Upland 必须同时给出或同时省略。
type Site struct {
	SettlementAge int                   `yaml:"settlement_age"`
	Treeline      *int                  `yaml:"treeline,omitempty"`
	Upland        *contract.Proportions `yaml:"upland,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Matcher string `yaml:"matcher"`
	Raster  string `yaml:"raster"`
	Table   string `yaml:"table"`
	Archive string `yaml:"archive"`
	Writer  string `yaml:"writer"`
	Preview string `yaml:"preview"`
}

// Options: 各组件的原样 YAML 子树。
type Options struct {
	Matcher *yaml.Node `yaml:"matcher,omitempty"`
	Raster  *yaml.Node `yaml:"raster,omitempty"`
	Table   *yaml.Node `yaml:"table,omitempty"`
	Archive *yaml.Node `yaml:"archive,omitempty"`
	Writer  *yaml.Node `yaml:"writer,omitempty"`
	Preview *yaml.Node `yaml:"preview,omitempty"`
}
