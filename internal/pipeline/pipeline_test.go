package pipeline

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lctcache/internal/diag"
	"lctcache/pkg/contract"
	"lctcache/plugins/archive/zipcache"
	"lctcache/plugins/matcher/flaky"
	"lctcache/plugins/matcher/mock"
	"lctcache/plugins/raster/ascgrid"
	"lctcache/plugins/table/csvscore"
	"lctcache/plugins/writer/filesystem"
)

const demText = `ncols 4
nrows 5
xllcorner 100
yllcorner 200
cellsize 30
NODATA_value -9999
100 110 120 130
200 210 220 230
300 310 320 330
400 410 420 430
500 510 520 530
`

// recording 包装匹配器，记录每次调用的种子与 DEM 的 CRS。
type recording struct {
	inner contract.Matcher
	mu    sync.Mutex
	seeds []int64
	crs   []string
}

func (r *recording) Match(ctx context.Context, dem contract.Elevation, req contract.MatchRequest) (contract.Landscape, error) {
	r.mu.Lock()
	r.seeds = append(r.seeds, req.Seed)
	r.crs = append(r.crs, dem.Geo.CRS)
	r.mu.Unlock()
	return r.inner.Match(ctx, dem, req)
}

type fixture struct {
	out  string
	tmp  string
	dem  string
	comp Components
	set  Settings
}

func newFixture(t *testing.T, m contract.Matcher) *fixture {
	t.Helper()
	root := t.TempDir()
	fx := &fixture{
		out: filepath.Join(root, "out"),
		tmp: filepath.Join(root, "tmp"),
		dem: filepath.Join(root, "dem.asc"),
	}
	require.NoError(t, os.MkdirAll(fx.tmp, 0o755))
	require.NoError(t, os.WriteFile(fx.dem, []byte(demText), 0o644))

	rc, err := ascgrid.New(nil)
	require.NoError(t, err)
	tw, err := csvscore.New(nil)
	require.NoError(t, err)
	ar, err := zipcache.New(nil)
	require.NoError(t, err)
	wr, err := filesystem.New(&filesystem.Options{OutputDir: fx.out})
	require.NoError(t, err)

	fx.comp = Components{Matcher: m, Raster: rc, Table: tw, Archive: ar, Writer: wr}
	fx.set = Settings{Count: 5, Iterations: 10, Seed: 100, Concurrency: 1, TempDir: fx.tmp}
	return fx
}

func total(t *testing.T) contract.ProportionRecord {
	t.Helper()
	r, err := contract.NewProportionRecord(contract.Proportions{Deciduous: 0.3, Oak: 0.2, Pine: 0.2, Shrubland: 0.15, Grassland: 0.15})
	require.NoError(t, err)
	return r
}

func (fx *fixture) job(t *testing.T, site string) Job {
	return Job{Site: site, DEMPath: fx.dem, ArchiveID: contract.ArtifactID(site + "/init_lct_maps.zip"), Total: total(t)}
}

// files 列出目录树下的全部普通文件（相对路径）。
func files(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(dir, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestOrder(t *testing.T) {
	assert.Equal(t, []int{0, 1, 10, 11, 2, 3, 4, 5, 6, 7, 8, 9}, Order(12))
	assert.Empty(t, Order(0))
}

func TestMemberNamesAscendAcrossPairs(t *testing.T) {
	var names []string
	for _, i := range Order(120) {
		names = append(names, MemberName(i, "asc"), MemberName(i, "csv"))
	}
	assert.True(t, sort.StringsAreSorted(names))
}

func TestSiteSeed(t *testing.T) {
	assert.Equal(t, SiteSeed("navarres"), SiteSeed("navarres"))
	assert.NotEqual(t, SiteSeed("navarres"), SiteSeed("atxuri"))
	assert.GreaterOrEqual(t, SiteSeed("navarres"), int64(0))
}

func TestBuildWritesSortedArchive(t *testing.T) {
	inner, _ := mock.New(nil)
	rec := &recording{inner: inner}
	fx := newFixture(t, rec)
	fx.set.Count = 12
	require.NoError(t, os.WriteFile(strings.TrimSuffix(fx.dem, ".asc")+".prj", []byte("PROJCS[\"test\"]\n"), 0o644))

	require.NoError(t, Build(context.Background(), fx.comp, fx.set, fx.job(t, "navarres"), nil))

	zr, err := zip.OpenReader(filepath.Join(fx.out, "navarres", "init_lct_maps.zip"))
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.True(t, f.Modified.Equal(zipcache.ModTime), f.Name)
	}
	require.Len(t, names, 24)
	assert.True(t, sort.StringsAreSorted(names))
	assert.Equal(t, "init-landscape0.asc", names[0])
	assert.Equal(t, "init-landscape9.csv", names[23])

	// 栅格为规范编码，得分表首行为 DAL 且完全拟合
	rc, _ := ascgrid.New(nil)
	for _, f := range zr.File {
		r, err := f.Open()
		require.NoError(t, err)
		switch filepath.Ext(f.Name) {
		case ".asc":
			l, err := rc.ReadLandscape(context.Background(), r)
			require.NoError(t, err)
			assert.Equal(t, 5, l.Rows)
			assert.Equal(t, 4, l.Cols)
			assert.Equal(t, 100.0, l.Geo.XLLCorner)
			for _, v := range l.Cells {
				assert.Contains(t, []int{3, 4, 5, 7, 8}, v)
			}
		case ".csv":
			recs, err := csv.NewReader(r).ReadAll()
			require.NoError(t, err)
			require.Len(t, recs, 6)
			assert.Equal(t, csvscore.Header, recs[0])
			for _, row := range recs[1:] {
				assert.Equal(t, "1", row[4], f.Name)
			}
		}
		require.NoError(t, r.Close())
	}

	assert.Empty(t, files(t, fx.tmp))
	assert.Equal(t, []string{"navarres/init_lct_maps.zip"}, files(t, fx.out))

	sort.Slice(rec.seeds, func(a, b int) bool { return rec.seeds[a] < rec.seeds[b] })
	for i, s := range rec.seeds {
		assert.Equal(t, int64(100+i), s)
	}
	for _, c := range rec.crs {
		assert.Equal(t, `PROJCS["test"]`, c)
	}
}

func TestBuildReproducible(t *testing.T) {
	read := func() []byte {
		inner, _ := mock.New(nil)
		fx := newFixture(t, inner)
		require.NoError(t, Build(context.Background(), fx.comp, fx.set, fx.job(t, "atxuri"), nil))
		b, err := os.ReadFile(filepath.Join(fx.out, "atxuri", "init_lct_maps.zip"))
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, read(), read())
}

func TestBuildMatcherFailureLeavesNoArchive(t *testing.T) {
	m, err := flaky.New(&flaky.Options{FailAt: 3})
	require.NoError(t, err)
	fx := newFixture(t, m)

	err = Build(context.Background(), fx.comp, fx.set, fx.job(t, "algendar"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrMatcher)

	var ce *contract.CandidateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "algendar", ce.Site)
	assert.Equal(t, Order(5)[2], ce.Index)
	assert.Equal(t, "match", ce.Stage)
	assert.False(t, diag.PreRun(err))

	assert.Empty(t, files(t, fx.out))
	assert.Empty(t, files(t, fx.tmp))
}

func TestBuildStratificationFailsBeforeMatching(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)
	job := fx.job(t, "navarres")
	tl := 400
	job.Treeline = &tl

	err := Build(context.Background(), fx.comp, fx.set, job, nil)
	require.ErrorIs(t, err, contract.ErrConfig)
	assert.True(t, diag.PreRun(err))
	assert.Zero(t, m.Calls())
	assert.Empty(t, files(t, fx.out))
}

func TestBuildStratified(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)
	job := fx.job(t, "charco_da_candieira")
	tl := 300
	up, err := contract.NewProportionRecord(contract.Proportions{Shrubland: 0.5, Grassland: 0.5})
	require.NoError(t, err)
	job.Treeline, job.Upland = &tl, &up

	require.NoError(t, Build(context.Background(), fx.comp, fx.set, job, nil))
	assert.Equal(t, 5, m.Calls())
}

func TestBuildCodeMapFailure(t *testing.T) {
	m, _ := mock.New(&mock.Options{Offset: 1})
	fx := newFixture(t, m)

	err := Build(context.Background(), fx.comp, fx.set, fx.job(t, "monte_areo_mire"), nil)
	var cme *contract.CodeMapError
	require.ErrorAs(t, err, &cme)
	assert.Equal(t, []int{5}, cme.Missing)

	var ce *contract.CandidateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "canonicalize", ce.Stage)
	assert.Equal(t, 1, m.Calls())
	assert.Empty(t, files(t, fx.out))
}

func TestBuildSettingsRejected(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)

	set := fx.set
	set.Count = 0
	assert.ErrorIs(t, Build(context.Background(), fx.comp, set, fx.job(t, "s"), nil), contract.ErrConfig)

	set = fx.set
	set.Iterations = contract.MaxIterations + 1
	assert.ErrorIs(t, Build(context.Background(), fx.comp, set, fx.job(t, "s"), nil), contract.ErrConfig)

	comp := fx.comp
	comp.Matcher = nil
	assert.ErrorIs(t, Build(context.Background(), comp, fx.set, fx.job(t, "s"), nil), contract.ErrConfig)
	assert.Zero(t, m.Calls())
}

func TestBuildMissingDEM(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)
	job := fx.job(t, "san_rafael")
	job.DEMPath = filepath.Join(fx.tmp, "nope.asc")

	err := Build(context.Background(), fx.comp, fx.set, job, nil)
	var me *contract.MissingSiteDataError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "san_rafael", me.Site)
	assert.True(t, diag.PreRun(err))
	assert.Zero(t, m.Calls())
}

func TestBuildCanceled(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Build(ctx, fx.comp, fx.set, fx.job(t, "navarres"), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, files(t, fx.out))
	assert.Empty(t, files(t, fx.tmp))
}

func TestBuildLogsCandidates(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)
	logDir := t.TempDir()
	logger := diag.NewLogger("test", "info", logDir)

	require.NoError(t, Build(context.Background(), fx.comp, fx.set, fx.job(t, "navarres"), logger))
	require.NoError(t, logger.Close())

	f, err := os.Open(filepath.Join(logDir, diag.CurrentLogName))
	require.NoError(t, err)
	defer f.Close()
	finished := map[string]int{}
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev diag.Event
		require.NoError(t, dec.Decode(&ev))
		assert.Equal(t, "navarres", ev.Site)
		if ev.Stage == "finish" {
			finished[ev.Msg]++
		}
	}
	assert.Equal(t, 5, finished["candidate"])
	assert.Equal(t, 1, finished["site"])
}

func TestRunSites(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)
	fx.set.Concurrency = 2
	jobs := []Job{fx.job(t, "navarres"), fx.job(t, "atxuri"), fx.job(t, "algendar")}

	require.NoError(t, RunSites(context.Background(), fx.comp, fx.set, jobs, nil))
	assert.Equal(t, []string{
		"algendar/init_lct_maps.zip",
		"atxuri/init_lct_maps.zip",
		"navarres/init_lct_maps.zip",
	}, files(t, fx.out))
	assert.Equal(t, 15, m.Calls())
}

func TestRunSitesValidatesAllBeforeStarting(t *testing.T) {
	m, _ := mock.New(nil)
	fx := newFixture(t, m)

	bad := fx.job(t, "atxuri")
	tl := 600
	bad.Treeline = &tl
	err := RunSites(context.Background(), fx.comp, fx.set, []Job{fx.job(t, "navarres"), bad}, nil)
	require.ErrorIs(t, err, contract.ErrConfig)

	dup := fx.job(t, "algendar")
	dup.ArchiveID = "navarres/init_lct_maps.zip"
	err = RunSites(context.Background(), fx.comp, fx.set, []Job{fx.job(t, "navarres"), dup}, nil)
	require.ErrorIs(t, err, contract.ErrConfig)

	assert.Zero(t, m.Calls())
	assert.Empty(t, files(t, fx.out))
}

func TestRunSitesFirstErrorStops(t *testing.T) {
	m, err := flaky.New(&flaky.Options{FailAt: 2})
	require.NoError(t, err)
	fx := newFixture(t, m)
	fx.set.Concurrency = 1

	err = RunSites(context.Background(), fx.comp, fx.set, []Job{fx.job(t, "navarres"), fx.job(t, "atxuri")}, nil)
	require.ErrorIs(t, err, contract.ErrMatcher)
	assert.Empty(t, files(t, fx.out))
}
