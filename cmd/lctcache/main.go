// Command lctcache 为各研究站点生成初始地类景观缓存。
//
// 配置优先级：CLI > ENV（含 .env）> YAML 配置文件 > 默认值。
// 退出码：0 成功；1 运行期失败；2 命令行用法错误；3 生成开始前的失败（配置、缺数据）。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "lctcache/internal/config"
	"lctcache/internal/diag"
	"lctcache/internal/pipeline"
)

// pipelineRun 可在测试中替换。
var pipelineRun = pipeline.RunSites

const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitPreRun  = 3
)

// exitError 携带退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func preRun(err error) error { return &exitError{code: exitPreRun, err: err} }
func runFail(err error) error { return &exitError{code: exitRuntime, err: err} }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = godotenv.Load(".env")

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if !errors.As(err, &ee) {
		fmt.Fprintf(stderr, "错误: %v\n", err)
		return exitUsage
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "错误: %v\n", ee.err)
	}
	return ee.code
}

// globalFlags: 所有子命令共享的旗标。
type globalFlags struct {
	config   string
	dataRoot string
	logLevel string
	logDir   string
	status   bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	b := &buildFlags{}
	root := &cobra.Command{
		Use:           "lctcache",
		Short:         "Generate initial land-cover landscape caches for study sites",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 无子命令时执行 build
		RunE: func(cmd *cobra.Command, _ []string) error { return runBuild(cmd, g, b) },
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "YAML 配置文件；缺省读取 $LCTCACHE_CONFIG_FILE 或 ./"+cfgpkg.DefaultConfigFile+"（若存在）")
	pf.StringVar(&g.dataRoot, "data-root", "", "数据根目录（覆盖配置）")
	pf.StringVar(&g.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&g.logDir, "log-dir", "", "日志目录（覆盖配置）")
	pf.BoolVar(&g.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	b.register(root)

	root.AddCommand(newBuildCmd(g), newExtractCmd(g), newRenderCmd(g), newInitCmd())
	return root
}

// loadConfig 按层合并配置：默认 → YAML → ENV → CLI（over）。不做校验。
func loadConfig(g *globalFlags, over cfgpkg.Config) (cfgpkg.Config, error) {
	path := g.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat(cfgpkg.DefaultConfigFile); err == nil {
			path = cfgpkg.DefaultConfigFile
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" {
		base, err := cfgpkg.LoadYAML(path, nil)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, env)

	over.DataRoot = g.dataRoot
	over.Logging.Level = g.logLevel
	over.Logging.Dir = g.logDir
	return cfgpkg.Merge(cfg, over), nil
}

// dumpConfig 把有效配置以 YAML 写到 w，便于诊断。
func dumpConfig(w io.Writer, cfg cfgpkg.Config) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "有效配置:\n%s", b)
}

// newLogger 按最终配置构造日志器。
func newLogger(corrID string, cfg cfgpkg.Config) *diag.Logger {
	return diag.NewLogger(corrID, strings.TrimSpace(cfg.Logging.Level), cfg.Logging.Dir)
}
