// Package pipeline 负责逐站点生成候选景观缓存。
//
//   - 单点并发：站点之间并行（RunSites），同一站点的候选严格串行；
//   - 顺序：候选按文件名升序生成并追加到归档，归档成员天然有序；
//   - 首错中止：任一候选失败即 Abort 归档会话，目标位置不留下残缺缓存；
//   - 临时文件：每个候选的栅格与得分表写入站点临时目录，归档后立即删除，目录在返回前移除。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"lctcache/internal/canon"
	"lctcache/internal/diag"
	"lctcache/internal/score"
	"lctcache/internal/stratify"
	"lctcache/pkg/contract"
)

// MemberPrefix: 归档成员名前缀，成员名为 init-landscape<N>.<ext>。
const MemberPrefix = "init-landscape"

// Components 聚合构建缓存所需的原子组件。
type Components struct {
	Matcher contract.Matcher
	Raster  contract.RasterCodec
	Table   contract.ScoreTableWriter
	Archive contract.Archiver
	Writer  contract.Writer
}

// Settings 运行期配置（所有站点共享）。
type Settings struct {
	// Count: 每个站点生成的候选数（>=1）。
	Count int
	// Iterations: 传给匹配器的迭代次数（1..MaxIterations）。
	Iterations int
	// Seed: 基础种子；0 表示按站点代码派生。第 i 个候选使用 base+i。
	Seed int64
	// Concurrency: 并行站点数；<=0 视为 1。
	Concurrency int
	// TempDir: 临时目录的父目录；空为系统默认。
	TempDir string
	// MatcherName: 仅用于终端提示。
	MatcherName string
}

// Job 描述单个站点的构建任务。
type Job struct {
	Site      string
	DEMPath   string
	ArchiveID contract.ArtifactID
	Total     contract.ProportionRecord
	Treeline  *int
	Upland    *contract.ProportionRecord
}

// MemberName 返回第 i 个候选的归档成员名。
func MemberName(i int, ext string) string {
	return MemberPrefix + strconv.Itoa(i) + "." + ext
}

// Order 返回候选序号的生成顺序：按成员名（不含扩展名）字典序升序，
// 例如 0,1,10,11,...,19,2,20,...。
func Order(count int) []int {
	idx := make([]int, count)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return stem(idx[a]) < stem(idx[b])
	})
	return idx
}

func stem(i int) string { return MemberPrefix + strconv.Itoa(i) + "." }

// SiteSeed 由站点代码派生稳定的基础种子（FNV-1a）。
func SiteSeed(site string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(site))
	return int64(h.Sum64() >> 1)
}

// Prepare 校验站点任务并返回分层目标；不触碰任何文件。
func Prepare(comp Components, set Settings, job Job) (*contract.StratifiedTarget, error) {
	st, err := stratify.Stratify(job.Total, job.Treeline, job.Upland)
	if err != nil {
		return nil, fmt.Errorf("site %q: %w", job.Site, err)
	}
	if err := sanity(comp, set, job); err != nil {
		return nil, fmt.Errorf("site %q: %w", job.Site, err)
	}
	return st, nil
}

// Build 为单个站点生成 Count 个候选并打包为一个归档。
// 顺序：分层校验 → 参数校验 → 读取 DEM → 临时目录 → 打开归档 → 逐候选
// 匹配/规范化/写栅格/评分/写表/归档 → 提交。任一步失败时归档被中止。
func Build(ctx context.Context, comp Components, set Settings, job Job, logger *diag.Logger) (err error) {
	st, err := Prepare(comp, set, job)
	if err != nil {
		diag.Fail(logger, "pipeline", "prepare", err, nil, job.Site, "")
		return err
	}

	term := diag.GetTerminal()
	siteStart := time.Now()
	term.SiteStart(job.Site, set.Count)
	done := 0
	defer func() {
		term.SiteProgress(job.Site, done, set.Count)
		term.SiteFinish(job.Site, err == nil, time.Since(siteStart))
	}()

	stimer := logger.StartWithKV("pipeline", "site", job.Site, "", map[string]string{
		"count":      strconv.Itoa(set.Count),
		"archive":    string(job.ArchiveID),
		"stratified": strconv.FormatBool(st != nil),
	})

	dem, err := readDEM(ctx, comp.Raster, job)
	if err != nil {
		diag.Fail(logger, "raster", "read dem", err, stimer, job.Site, "")
		return err
	}

	tmp, err := os.MkdirTemp(set.TempDir, "lctcache-*")
	if err != nil {
		diag.Fail(logger, "pipeline", "temp dir", err, stimer, job.Site, "")
		return fmt.Errorf("site %q: temp dir: %w", job.Site, err)
	}
	defer os.RemoveAll(tmp)

	sess, err := comp.Archive.Open(ctx, job.ArchiveID, comp.Writer)
	if err != nil {
		diag.Fail(logger, "archive", "open", err, stimer, job.Site, "")
		return fmt.Errorf("site %q: open archive: %w", job.Site, err)
	}

	base := set.Seed
	if base == 0 {
		base = SiteSeed(job.Site)
	}
	b := &builder{comp: comp, set: set, job: job, st: st, dem: dem, dir: tmp, base: base, logger: logger}

	for _, i := range Order(set.Count) {
		if cerr := ctx.Err(); cerr != nil {
			err = &contract.CandidateError{Site: job.Site, Index: i, Stage: "cancel", Err: cerr}
			break
		}
		if err = b.emit(ctx, sess, i); err != nil {
			break
		}
		done++
		term.SiteProgress(job.Site, done, set.Count)
	}
	if err != nil {
		sess.Abort(err)
		diag.Fail(logger, "pipeline", "site", err, stimer, job.Site, "")
		return err
	}
	if err = sess.Commit(); err != nil {
		err = fmt.Errorf("site %q: commit archive: %w", job.Site, err)
		diag.Fail(logger, "archive", "commit", err, stimer, job.Site, "")
		return err
	}
	stimer.Finish("site", int64(set.Count))
	diag.IncOp("pipeline", "finish", "success")
	return nil
}

// sanity 检查组件齐全与计数参数。
func sanity(c Components, s Settings, job Job) error {
	if c.Matcher == nil || c.Raster == nil || c.Table == nil || c.Archive == nil || c.Writer == nil {
		return fmt.Errorf("%w: missing pipeline component", contract.ErrConfig)
	}
	if s.Count < 1 {
		return fmt.Errorf("%w: count must be >= 1, got %d", contract.ErrConfig, s.Count)
	}
	if s.Iterations < 1 || s.Iterations > contract.MaxIterations {
		return fmt.Errorf("%w: iterations must be in [1, %d], got %d", contract.ErrConfig, contract.MaxIterations, s.Iterations)
	}
	if c.Raster.Ext() == c.Table.Ext() {
		return fmt.Errorf("%w: raster and table share extension %q", contract.ErrConfig, c.Raster.Ext())
	}
	if strings.TrimSpace(job.Site) == "" {
		return fmt.Errorf("%w: empty site code", contract.ErrConfig)
	}
	if job.DEMPath == "" || job.ArchiveID == "" {
		return fmt.Errorf("%w: dem path and archive id are required", contract.ErrConfig)
	}
	return nil
}

// readDEM 读取基础 DEM；同名 .prj 伴随文件存在时作为 CRS。
func readDEM(ctx context.Context, codec contract.RasterCodec, job Job) (contract.Elevation, error) {
	f, err := os.Open(job.DEMPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return contract.Elevation{}, &contract.MissingSiteDataError{Site: job.Site, What: "elevation model", Path: job.DEMPath}
		}
		return contract.Elevation{}, fmt.Errorf("site %q: open dem: %w", job.Site, err)
	}
	defer f.Close()
	dem, err := codec.ReadElevation(ctx, f)
	if err != nil {
		return contract.Elevation{}, fmt.Errorf("site %q: read dem %s: %w", job.Site, job.DEMPath, err)
	}
	prj := strings.TrimSuffix(job.DEMPath, filepath.Ext(job.DEMPath)) + ".prj"
	if b, err := os.ReadFile(prj); err == nil {
		dem.Geo.CRS = strings.TrimSpace(string(b))
	}
	return dem, nil
}

// builder 保存单站点构建的只读上下文。
type builder struct {
	comp   Components
	set    Settings
	job    Job
	st     *contract.StratifiedTarget
	dem    contract.Elevation
	dir    string
	base   int64
	logger *diag.Logger
}

// pair: 单个候选落盘后的两份文件（按成员名升序）。
type pair struct {
	names [2]string
	paths [2]string
	mean  float64
}

func (p pair) remove() {
	for _, path := range p.paths {
		if path != "" {
			_ = os.Remove(path)
		}
	}
}

// emit 生成第 i 个候选并将其两份文件追加到归档；文件无论成败都会删除。
func (b *builder) emit(ctx context.Context, sess contract.ArchiveSession, i int) error {
	cand := diag.Cand(i)
	t := b.logger.StartWith("pipeline", "candidate", b.job.Site, cand)
	p, err := b.generate(ctx, i)
	defer p.remove()
	if err != nil {
		diag.Fail(b.logger, "pipeline", "candidate", err, t, b.job.Site, cand)
		return err
	}
	for k := range p.names {
		if err := b.add(ctx, sess, p.names[k], p.paths[k]); err != nil {
			err = &contract.CandidateError{Site: b.job.Site, Index: i, Stage: "archive", Err: err}
			diag.Fail(b.logger, "archive", "add", err, t, b.job.Site, cand)
			return err
		}
	}
	t.FinishKV("candidate", 2, map[string]string{"mean_score": strconv.FormatFloat(p.mean, 'f', 4, 64)})
	diag.IncOp("pipeline", "candidate", "success")
	return nil
}

// generate: 匹配 → 规范化 → 写栅格 → 评分 → 写表，返回落盘的文件对。
// 失败时返回已写出的部分，由调用方删除。
func (b *builder) generate(ctx context.Context, i int) (p pair, err error) {
	fail := func(stage string, err error) (pair, error) {
		return p, &contract.CandidateError{Site: b.job.Site, Index: i, Stage: stage, Err: err}
	}

	req := stratify.Request(b.job.Total, b.st, b.set.Iterations, b.base+int64(i))
	b.logger.DebugStart("matcher", "match", b.job.Site, diag.Cand(i), map[string]string{"seed": strconv.FormatInt(req.Seed, 10)})
	raw, err := b.comp.Matcher.Match(ctx, b.dem, req)
	if err != nil {
		return fail("match", err)
	}
	if !raw.SameShape(b.dem) {
		return fail("match", fmt.Errorf("%w: matcher output %dx%d does not match dem %dx%d",
			contract.ErrInvariantViolation, raw.Rows, raw.Cols, b.dem.Rows, b.dem.Cols))
	}

	l, err := canon.Canonicalize(raw, contract.ProportionNames)
	if err != nil {
		return fail("canonicalize", err)
	}

	rname := MemberName(i, b.comp.Raster.Ext())
	tname := MemberName(i, b.comp.Table.Ext())
	rpath := filepath.Join(b.dir, rname)
	tpath := filepath.Join(b.dir, tname)

	p.paths[0] = rpath
	if err := writeFile(rpath, func(f *os.File) error { return b.comp.Raster.WriteLandscape(ctx, f, l) }); err != nil {
		return fail("write raster", err)
	}

	rows, err := score.Score(l, b.job.Total)
	if err != nil {
		return fail("score", err)
	}

	p.paths[1] = tpath
	if err := writeFile(tpath, func(f *os.File) error { return b.comp.Table.WriteScores(ctx, f, rows) }); err != nil {
		return fail("write table", err)
	}

	p.mean = score.Mean(rows)
	p.names = [2]string{rname, tname}
	if tname < rname {
		p.names = [2]string{tname, rname}
		p.paths = [2]string{tpath, rpath}
	}
	return p, nil
}

func (b *builder) add(ctx context.Context, sess contract.ArchiveSession, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return sess.Add(ctx, name, f)
}

// writeFile 创建文件并调用 fn 写入；关闭错误同样上抛。
func writeFile(path string, fn func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}
