package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lctcache/pkg/contract"
)

const tsHeader = "agebp,pct_deciduous_forest,pct_oak_forest,pct_pine_forest,pct_shrubland,pct_grassland,d_pct_pine_forest\n"

// layout 在临时目录中构造元数据与时间序列文件。
func layout(t *testing.T, meta string, series map[string]string) Source {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultMetadataFile), []byte(meta), 0o644))
	for site, body := range series {
		dir := filepath.Join(root, site)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultTimeSeriesFile), []byte(body), 0o644))
	}
	return Source{Root: root}
}

// TestExtractSlice 选出定居年代行，丢弃派生列，百分比转比例。
func TestExtractSlice(t *testing.T) {
	src := layout(t, "sitecode,lat,lon\nnavarres,39.1,-0.7\natxuri,43.2,-2.8\n", map[string]string{
		"navarres": tsHeader +
			"6500,10,10,10,60,10,-3.5\n" +
			"7000,0,30,50,20,0,12.0\n",
		"atxuri": tsHeader +
			"5000.0,25,25,25,25,0,0\n",
	})
	got, err := Extract(context.Background(), src, map[string]int{"navarres": 7000, "atxuri": 5000})
	require.NoError(t, err)
	require.Len(t, got, 2)

	nv := got["navarres"]
	assert.InDelta(t, 0.5, nv.Get(contract.NamePine), 1e-12)
	assert.InDelta(t, 0.3, nv.Get(contract.NameOak), 1e-12)
	assert.InDelta(t, 0.2, nv.Get(contract.NameShrubland), 1e-12)
	assert.Equal(t, 0.0, nv.Get(contract.NameDeciduous))
	assert.InDelta(t, 0.25, got["atxuri"].Get(contract.NameDeciduous), 1e-12)
}

// TestExtractDuplicateRow 同一年代出现两行时报错，不取其中任一行。
func TestExtractDuplicateRow(t *testing.T) {
	src := layout(t, "sitecode\nsan_rafael\n", map[string]string{
		"san_rafael": tsHeader +
			"5000,20,20,20,20,20,0\n" +
			"5500,0,0,100,0,0,0\n" +
			"5000.0,0,30,50,20,0,0\n",
	})
	_, err := Extract(context.Background(), src, map[string]int{"san_rafael": 5000})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Contains(t, err.Error(), `"san_rafael"`)
	assert.Contains(t, err.Error(), "lines 2 and 4")
	assert.Contains(t, err.Error(), "5000 BP")
}

// TestExtractMissingRow 没有对应年代的行时报告站点与年代。
func TestExtractMissingRow(t *testing.T) {
	src := layout(t, "sitecode\nalgendar\n", map[string]string{
		"algendar": tsHeader + "4000,0,0,100,0,0,0\n",
	})
	_, err := Extract(context.Background(), src, map[string]int{"algendar": 5000})
	require.ErrorIs(t, err, contract.ErrMissingSiteData)
	var me *contract.MissingSiteDataError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "algendar", me.Site)
	assert.Equal(t, 5000, me.AgeBP)
}

// TestExtractMissingMetadata 元数据缺站时失败并给出建议。
func TestExtractMissingMetadata(t *testing.T) {
	src := layout(t, "sitecode\nsan_rafael\n", nil)
	_, err := Extract(context.Background(), src, map[string]int{"san_rafel": 5000})
	require.ErrorIs(t, err, contract.ErrMissingSiteData)
	assert.Contains(t, err.Error(), `did you mean "san_rafael"`)
}

// TestExtractMissingSeries 时间序列文件缺失属于缺数据错误。
func TestExtractMissingSeries(t *testing.T) {
	src := layout(t, "sitecode\nnavarres\n", nil)
	_, err := Extract(context.Background(), src, map[string]int{"navarres": 7000})
	require.ErrorIs(t, err, contract.ErrMissingSiteData)
}

// TestExtractBadSum 比例和不为 1 时报告站点与总和，不做归一化。
func TestExtractBadSum(t *testing.T) {
	src := layout(t, "sitecode\nnavarres\n", map[string]string{
		"navarres": tsHeader + "7000,0,30,50,0,0,0\n",
	})
	_, err := Extract(context.Background(), src, map[string]int{"navarres": 7000})
	require.ErrorIs(t, err, contract.ErrProportionSum)
	assert.Contains(t, err.Error(), "navarres")
	assert.Contains(t, err.Error(), "sum=0.800000")
}

// TestExtractUnknownColumn 未知 pct_ 列给出建议。
func TestExtractUnknownColumn(t *testing.T) {
	src := layout(t, "sitecode\nnavarres\n", map[string]string{
		"navarres": "agebp,pct_pines_forest\n7000,100\n",
	})
	_, err := Extract(context.Background(), src, map[string]int{"navarres": 7000})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Contains(t, err.Error(), `did you mean "pine"`)
}

// TestSiteCodes 保持文件顺序并去重。
func TestSiteCodes(t *testing.T) {
	src := layout(t, "\ufeffname,sitecode\nA,navarres\nB,atxuri\nC,navarres\n", nil)
	got, err := SiteCodes(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"navarres", "atxuri"}, got)

	bad := layout(t, "site\nx\n", nil)
	_, err = SiteCodes(bad)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

// TestExtractCanceled 已取消的 ctx 直接返回。
func TestExtractCanceled(t *testing.T) {
	src := layout(t, "sitecode\nnavarres\n", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, src, map[string]int{"navarres": 7000})
	require.ErrorIs(t, err, context.Canceled)
}
