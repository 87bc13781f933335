// Package extract 从站点时间序列中切出定居年代的地类比例。
//
// 输入布局（只读，由上游产出）：
//
//	<root>/site_metadata.csv      以 sitecode 列为键
//	<root>/<site>/lct_pct_ts.csv  agebp 列 + pct_* 百分比列 + 派生列
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lctcache/pkg/contract"
)

const (
	DefaultMetadataFile   = "site_metadata.csv"
	DefaultTimeSeriesFile = "lct_pct_ts.csv"

	siteColumn = "sitecode"
	ageColumn  = "agebp"
	pctPrefix  = "pct_"
	forestTail = "_forest"
)

// Source: 数据根目录与文件名。空文件名使用默认值。
type Source struct {
	Root           string
	MetadataFile   string
	TimeSeriesFile string
}

func (s Source) metadataPath() string {
	name := s.MetadataFile
	if name == "" {
		name = DefaultMetadataFile
	}
	return filepath.Join(s.Root, name)
}

// TimeSeriesPath 返回站点时间序列文件路径。
func (s Source) TimeSeriesPath(site string) string {
	name := s.TimeSeriesFile
	if name == "" {
		name = DefaultTimeSeriesFile
	}
	return filepath.Join(s.Root, site, name)
}

// SiteCodes 按文件顺序返回元数据中的站点代码。
func SiteCodes(src Source) ([]string, error) {
	path := src.metadataPath()
	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	col := indexOf(header, siteColumn)
	if col < 0 {
		return nil, fmt.Errorf("%w: %s has no %q column", contract.ErrInvalidInput, path, siteColumn)
	}
	out := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		code := strings.TrimSpace(r[col])
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out, nil
}

// Extract 为 ages 中每个站点返回定居年代的比例记录。
// 站点缺元数据或缺对应年代行 → *MissingSiteDataError；比例和不为 1 → *ProportionError。
// 不做默认值替代，也不做归一化。
func Extract(ctx context.Context, src Source, ages map[string]int) (map[string]contract.ProportionRecord, error) {
	known, err := SiteCodes(src)
	if err != nil {
		return nil, err
	}
	inMeta := make(map[string]bool, len(known))
	for _, s := range known {
		inMeta[s] = true
	}

	sites := make([]string, 0, len(ages))
	for s := range ages {
		sites = append(sites, s)
	}
	sort.Strings(sites)

	out := make(map[string]contract.ProportionRecord, len(sites))
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !inMeta[site] {
			return nil, &contract.MissingSiteDataError{Site: site, What: "metadata" + suggestSite(site, known), Path: src.metadataPath()}
		}
		rec, err := extractSite(src, site, ages[site])
		if err != nil {
			return nil, err
		}
		out[site] = rec
	}
	return out, nil
}

func suggestSite(site string, known []string) string {
	if hint := contract.Suggest(site, known); hint != "" {
		return fmt.Sprintf(" (did you mean %q?)", hint)
	}
	return ""
}

func extractSite(src Source, site string, age int) (contract.ProportionRecord, error) {
	path := src.TimeSeriesPath(site)
	header, rows, err := readTable(path)
	if errors.Is(err, os.ErrNotExist) {
		return contract.ProportionRecord{}, &contract.MissingSiteDataError{Site: site, What: "time series", Path: path}
	}
	if err != nil {
		return contract.ProportionRecord{}, err
	}
	ageCol := indexOf(header, ageColumn)
	if ageCol < 0 {
		return contract.ProportionRecord{}, fmt.Errorf("%w: %s has no %q column", contract.ErrInvalidInput, path, ageColumn)
	}
	cols, err := proportionColumns(site, header)
	if err != nil {
		return contract.ProportionRecord{}, err
	}

	match := -1
	for line, r := range rows {
		a, err := strconv.ParseFloat(strings.TrimSpace(r[ageCol]), 64)
		if err != nil {
			return contract.ProportionRecord{}, fmt.Errorf("%w: %s line %d: agebp %q", contract.ErrInvalidInput, path, line+2, r[ageCol])
		}
		if a != float64(age) {
			continue
		}
		if match >= 0 {
			return contract.ProportionRecord{}, fmt.Errorf("%w: site %q: %s lines %d and %d both at %d BP",
				contract.ErrInvalidInput, site, path, match+2, line+2, age)
		}
		match = line
	}
	if match < 0 {
		return contract.ProportionRecord{}, &contract.MissingSiteDataError{Site: site, What: "time-series row", AgeBP: age, Path: path}
	}

	line, r := match, rows[match]
	m := make(map[contract.LctName]float64, len(cols))
	for name, c := range cols {
		raw := strings.TrimSpace(r[c])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) {
			return contract.ProportionRecord{}, fmt.Errorf("%w: %s line %d: %s%s=%q", contract.ErrInvalidInput, path, line+2, pctPrefix, name, raw)
		}
		m[name] += v / 100
	}
	return contract.ProportionRecordFromMap(site, m)
}

// proportionColumns 选出 pct_ 前缀列并规范化列名（去掉 pct_ 与 _forest）。
// 规范化后同名的列累加。
func proportionColumns(site string, header []string) (map[contract.LctName]int, error) {
	out := make(map[contract.LctName]int)
	for i, h := range header {
		h = strings.TrimSpace(h)
		if !strings.HasPrefix(h, pctPrefix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(h, pctPrefix), forestTail)
		name, err := contract.ParseLctName(raw)
		if err != nil {
			return nil, fmt.Errorf("site %q: column %q: %w", site, h, err)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: site %q: more than one column for %s", contract.ErrInvalidInput, site, name)
		}
		out[name] = i
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: site %q: no %s columns", contract.ErrInvalidInput, site, pctPrefix)
	}
	return out, nil
}

func indexOf(header []string, col string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == col {
			return i
		}
	}
	return -1
}

// readTable 读取带表头的 CSV；每行列数须与表头一致。
func readTable(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return parseTable(f, path)
}

func parseTable(r io.Reader, path string) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: %s is empty", contract.ErrInvalidInput, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, path, err)
	}
	return header, rows, nil
}
