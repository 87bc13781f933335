package testdata

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "lctcache/internal/config"
	"lctcache/internal/extract"
	"lctcache/internal/pipeline"
	"lctcache/pkg/contract"
	"lctcache/plugins/raster/ascgrid"
	"lctcache/plugins/table/csvscore"
)

var fixtureSites = []string{"navarres", "charco_da_candieira", "algendar"}

// copyFiles 把 files/ 下的站点数据复制到临时数据根。
func copyFiles(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	err := filepath.WalkDir("files", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel("files", p)
		dst := filepath.Join(root, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, b, 0o644)
	})
	require.NoError(t, err)
	return root
}

func baseConfig(root string, count int) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.DataRoot = root
	cfg.Sites = fixtureSites
	cfg.Count = count
	cfg.Iterations = 5
	cfg.Concurrency = 2
	cfg.Seed = 42
	cfg.Logging = cfgpkg.Logging{Level: "error", Dir: filepath.Join(root, "logs")}
	return cfg
}

// runPipeline 按命令行同样的顺序执行：校验 → 提取 → 任务 → 装配 → 构建。
func runPipeline(t *testing.T, cfg cfgpkg.Config) error {
	t.Helper()
	if err := cfgpkg.Validate(cfg); err != nil {
		return err
	}
	sites, err := cfgpkg.ResolveSites(cfg)
	if err != nil {
		return err
	}
	totals, err := extract.Extract(context.Background(), cfgpkg.Source(cfg), cfgpkg.Ages(cfg, sites))
	if err != nil {
		return err
	}
	jobs, err := cfgpkg.Jobs(cfg, sites, totals)
	if err != nil {
		return err
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return err
	}
	return pipeline.RunSites(context.Background(), comp, set, jobs, nil)
}

func readArchive(t *testing.T, path string) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	data := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		names = append(names, f.Name)
		data[f.Name] = b
	}
	return names, data
}

func TestE2ESuccess(t *testing.T) {
	root := copyFiles(t)
	const count = 12
	require.NoError(t, runPipeline(t, baseConfig(root, count)))

	codec, err := ascgrid.New(nil)
	require.NoError(t, err)
	canonical := map[int]bool{}
	for _, n := range contract.ProportionNames {
		c, err := n.Canonical()
		require.NoError(t, err)
		canonical[int(c)] = true
	}

	for _, site := range fixtureSites {
		names, data := readArchive(t, filepath.Join(root, site, "init_lct_maps.zip"))
		require.Len(t, names, 2*count, site)
		assert.True(t, sort.StringsAreSorted(names), "%s: %v", site, names)

		dem, err := os.ReadFile(filepath.Join(root, site, "hydrocorrect_dem.asc"))
		require.NoError(t, err)
		elev, err := codec.ReadElevation(context.Background(), bytes.NewReader(dem))
		require.NoError(t, err)

		for i := 0; i < count; i++ {
			l, err := codec.ReadLandscape(context.Background(), bytes.NewReader(data[pipeline.MemberName(i, "asc")]))
			require.NoError(t, err, "%s #%d", site, i)
			assert.Equal(t, elev.Rows, l.Rows)
			assert.Equal(t, elev.Cols, l.Cols)
			assert.Equal(t, elev.Geo.XLLCorner, l.Geo.XLLCorner)
			assert.Equal(t, elev.Geo.CellSize, l.Geo.CellSize)
			for _, v := range l.Cells {
				require.True(t, canonical[v], "%s #%d: code %d", site, i, v)
			}

			recs, err := csv.NewReader(bytes.NewReader(data[pipeline.MemberName(i, "csv")])).ReadAll()
			require.NoError(t, err)
			require.Len(t, recs, 1+len(contract.ProportionNames))
			assert.Equal(t, csvscore.Header, recs[0])
			for _, r := range recs[1:] {
				s, err := strconv.ParseFloat(r[len(r)-1], 64)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, s, 0.0)
				assert.LessOrEqual(t, s, 1.0)
			}
		}
	}
	entries, err := os.ReadDir(filepath.Join(root, "navarres"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover temp file %s", e.Name())
	}
}

// TestE2EReproducible 相同配置与种子两次运行，归档逐字节一致。
func TestE2EReproducible(t *testing.T) {
	a, b := copyFiles(t), copyFiles(t)
	for _, root := range []string{a, b} {
		cfg := baseConfig(root, 4)
		cfg.Sites = []string{"charco_da_candieira"}
		require.NoError(t, runPipeline(t, cfg))
	}
	x, err := os.ReadFile(filepath.Join(a, "charco_da_candieira", "init_lct_maps.zip"))
	require.NoError(t, err)
	y, err := os.ReadFile(filepath.Join(b, "charco_da_candieira", "init_lct_maps.zip"))
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestE2EMissingAge(t *testing.T) {
	root := copyFiles(t)
	cfg := baseConfig(root, 2)
	site := cfg.Site["algendar"]
	site.SettlementAge = 4321
	cfg.Site["algendar"] = site

	err := runPipeline(t, cfg)
	var miss *contract.MissingSiteDataError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, "algendar", miss.Site)
	assert.Equal(t, 4321, miss.AgeBP)
	for _, s := range fixtureSites {
		_, err := os.Stat(filepath.Join(root, s, "init_lct_maps.zip"))
		assert.ErrorIs(t, err, os.ErrNotExist, s)
	}
}

func TestE2EMatcherFailure(t *testing.T) {
	root := copyFiles(t)
	cfg := baseConfig(root, 5)
	cfg.Sites = []string{"navarres"}
	cfg.Components.Matcher = "flaky"
	cfg.Options.Matcher = nil
	cfg.Concurrency = 1

	err := runPipeline(t, cfg)
	var ce *contract.CandidateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "match", ce.Stage)
	assert.ErrorIs(t, err, contract.ErrMatcher)
	_, err = os.Stat(filepath.Join(root, "navarres", "init_lct_maps.zip"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
