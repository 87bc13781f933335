// Package registry 以显式映射表登记各组件工厂（零反射）。
// 组件 options 为配置文件中的 YAML 子树，按各插件 Options 严格解码（未知键报错）。
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"lctcache/pkg/contract"
	zipa "lctcache/plugins/archive/zipcache"
	mflaky "lctcache/plugins/matcher/flaky"
	mmock "lctcache/plugins/matcher/mock"
	mnlm "lctcache/plugins/matcher/nlm"
	ppng "lctcache/plugins/preview/png"
	rasc "lctcache/plugins/raster/ascgrid"
	tcsv "lctcache/plugins/table/csvscore"
	wfs "lctcache/plugins/writer/filesystem"
)

// strictDecode: 严格解码 options 子树；nil 或空节点保持零值（默认选项）。
func strictDecode(node *yaml.Node, v any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: options: %v", contract.ErrConfig, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: options: %v", contract.ErrConfig, err)
	}
	return nil
}

// NewMatcher 工厂签名：接收原样 YAML options。
type NewMatcher func(node *yaml.Node) (contract.Matcher, error)

// NewRaster 工厂签名。
type NewRaster func(node *yaml.Node) (contract.RasterCodec, error)

// NewTable 工厂签名。
type NewTable func(node *yaml.Node) (contract.ScoreTableWriter, error)

// NewArchive 工厂签名。
type NewArchive func(node *yaml.Node) (contract.Archiver, error)

// NewWriter 工厂签名。
type NewWriter func(node *yaml.Node) (contract.Writer, error)

// NewPreview 工厂签名。
type NewPreview func(node *yaml.Node) (contract.Previewer, error)

// Matcher 工厂注册表。
var Matcher = map[string]NewMatcher{
	// nlm: 分区约束随机填充 + 邻域交换细化
	"nlm": func(node *yaml.Node) (contract.Matcher, error) {
		var opts mnlm.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return mnlm.New(&opts)
	},
	// mock: 确定性条带（测试用）
	"mock": func(node *yaml.Node) (contract.Matcher, error) {
		var opts mmock.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return mmock.New(&opts)
	},
	// flaky: 第 K 次调用失败（失败路径测试用）
	"flaky": func(node *yaml.Node) (contract.Matcher, error) {
		var opts mflaky.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return mflaky.New(&opts)
	},
}

// Raster 工厂注册表。
var Raster = map[string]NewRaster{
	// asc: ESRI ASCII 栅格
	"asc": func(node *yaml.Node) (contract.RasterCodec, error) {
		var opts rasc.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return rasc.New(&opts)
	},
}

// Table 工厂注册表。
var Table = map[string]NewTable{
	"csv": func(node *yaml.Node) (contract.ScoreTableWriter, error) {
		var opts tcsv.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return tcsv.New(&opts)
	},
}

// Archive 工厂注册表。
var Archive = map[string]NewArchive{
	// zip: 固定时间戳、成员严格升序
	"zip": func(node *yaml.Node) (contract.Archiver, error) {
		var opts zipa.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return zipa.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(node *yaml.Node) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Preview 工厂注册表。
var Preview = map[string]NewPreview{
	"png": func(node *yaml.Node) (contract.Previewer, error) {
		var opts ppng.Options
		if err := strictDecode(node, &opts); err != nil {
			return nil, err
		}
		return ppng.New(&opts)
	},
}

// Names 返回注册表键（升序），用于错误提示与帮助文本。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
