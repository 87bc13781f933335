package contract

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// LctName: 比例词表中的地类名（花粉时间序列派生，固定集合）。
type LctName string

const (
	NameDeciduous LctName = "deciduous"
	NameOak       LctName = "oak"
	NamePine      LctName = "pine"
	NameShrubland LctName = "shrubland"
	NameGrassland LctName = "grassland"
)

// ProportionNames: 固定顺序。匹配器的临时编码 i 即表示 ProportionNames[i]。
var ProportionNames = []LctName{NameDeciduous, NameOak, NamePine, NameShrubland, NameGrassland}

// canonicalOf: 词表名 → 规范编码。grassland 在模拟器中对应 DAL（弃耕草地）。
var canonicalOf = map[LctName]LctCode{
	NameDeciduous: Deciduous,
	NameOak:       Oak,
	NamePine:      Pine,
	NameShrubland: Shrubland,
	NameGrassland: DAL,
}

// SumTolerance: 比例之和允许的偏差。
const SumTolerance = 1e-4

func nameIndex(n LctName) int {
	for i, v := range ProportionNames {
		if v == n {
			return i
		}
	}
	return -1
}

// Canonical 返回词表名对应的规范编码。
func (n LctName) Canonical() (LctCode, error) {
	if c, ok := canonicalOf[n]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: unknown land-cover name %q%s", ErrInvalidInput, string(n), didYouMean(string(n), nameStrings()))
}

// ParseLctName 解析词表名（大小写折叠）；未知名称附带建议。
func ParseLctName(s string) (LctName, error) {
	k := fold.String(strings.TrimSpace(s))
	for _, n := range ProportionNames {
		if fold.String(string(n)) == k {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: unknown land-cover name %q%s", ErrInvalidInput, s, didYouMean(s, nameStrings()))
}

func nameStrings() []string {
	out := make([]string, len(ProportionNames))
	for i, n := range ProportionNames {
		out[i] = string(n)
	}
	return out
}

// Proportions: 构造 ProportionRecord 的可变输入（配置与测试用）。未给出的字段为 0。
type Proportions struct {
	Deciduous float64 `yaml:"deciduous" json:"deciduous"`
	Oak       float64 `yaml:"oak" json:"oak"`
	Pine      float64 `yaml:"pine" json:"pine"`
	Shrubland float64 `yaml:"shrubland" json:"shrubland"`
	Grassland float64 `yaml:"grassland" json:"grassland"`
}

func (p Proportions) ordered() [5]float64 {
	return [5]float64{p.Deciduous, p.Oak, p.Pine, p.Shrubland, p.Grassland}
}

// ProportionRecord: 各地类占景观面积比例。构造后不可变。
// 约束：每项位于 [0,1]；总和与 1 的偏差不超过 SumTolerance；违例时构造失败，不做归一化。
type ProportionRecord struct {
	v [5]float64
}

// NewProportionRecord 校验并构造比例记录。
func NewProportionRecord(p Proportions) (ProportionRecord, error) {
	return newRecord("", p.ordered())
}

// NewSiteProportionRecord 与 NewProportionRecord 相同，错误中带站点代码。
func NewSiteProportionRecord(site string, p Proportions) (ProportionRecord, error) {
	return newRecord(site, p.ordered())
}

// ProportionRecordFromMap 由名称映射构造；键必须属于词表。
func ProportionRecordFromMap(site string, m map[LctName]float64) (ProportionRecord, error) {
	var v [5]float64
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		i := nameIndex(LctName(k))
		if i < 0 {
			return ProportionRecord{}, &ProportionError{Site: site, Field: k, Reason: "unknown land-cover name" + didYouMean(k, nameStrings())}
		}
		v[i] = m[LctName(k)]
	}
	return newRecord(site, v)
}

func newRecord(site string, v [5]float64) (ProportionRecord, error) {
	sum := 0.0
	for i, x := range v {
		if math.IsNaN(x) || x < 0 || x > 1 {
			return ProportionRecord{}, &ProportionError{Site: site, Field: string(ProportionNames[i]), Value: x, Reason: "proportion outside [0,1]"}
		}
		sum += x
	}
	if math.Abs(sum-1) > SumTolerance {
		return ProportionRecord{}, &ProportionError{Site: site, Sum: sum, Reason: "proportions must sum to 1"}
	}
	return ProportionRecord{v: v}, nil
}

// Get 返回指定地类比例；未知名称返回 0。
func (r ProportionRecord) Get(n LctName) float64 {
	i := nameIndex(n)
	if i < 0 {
		return 0
	}
	return r.v[i]
}

// Ordered 按 ProportionNames 顺序返回比例副本。
func (r ProportionRecord) Ordered() []float64 {
	out := make([]float64, len(r.v))
	copy(out, r.v[:])
	return out
}

// Sum 返回比例之和。
func (r ProportionRecord) Sum() float64 {
	s := 0.0
	for _, x := range r.v {
		s += x
	}
	return s
}

// IsZero 报告记录是否为零值（未经构造）。
func (r ProportionRecord) IsZero() bool { return r.v == [5]float64{} }

// Proportions 返回可编辑副本。
func (r ProportionRecord) Proportions() Proportions {
	return Proportions{Deciduous: r.v[0], Oak: r.v[1], Pine: r.v[2], Shrubland: r.v[3], Grassland: r.v[4]}
}

// StratifiedTarget: 林线分层目标。Total 为全景目标；Upland 为林线以上的组成。
// 低地组成不在此计算，由匹配器按 Total 反推。
type StratifiedTarget struct {
	Treeline int
	Upland   ProportionRecord
	Total    ProportionRecord
}
