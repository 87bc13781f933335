package main

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "lctcache/internal/config"
	"lctcache/internal/extract"
	"lctcache/pkg/contract"
)

func newExtractCmd(g *globalFlags) *cobra.Command {
	var (
		sites  []string
		format string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the settlement-age land-cover proportions of each site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "table" && format != "yaml" {
				return fmt.Errorf("--format must be table or yaml, got %q", format)
			}
			var over cfgpkg.Config
			over.Sites = sites
			cfg, err := loadConfig(g, over)
			if err != nil {
				return preRun(err)
			}
			ss, err := cfgpkg.ResolveSites(cfg)
			if err != nil {
				return preRun(err)
			}
			ages := cfgpkg.Ages(cfg, ss)
			totals, err := extract.Extract(cmd.Context(), cfgpkg.Source(cfg), ages)
			if err != nil {
				return preRun(err)
			}
			if format == "yaml" {
				return writeProportionsYAML(cmd.OutOrStdout(), ss, ages, totals)
			}
			writeProportionsTable(cmd.OutOrStdout(), ss, ages, totals)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sites, "sites", nil, "站点代码（逗号分隔；缺省为元数据表中的全部站点）")
	cmd.Flags().StringVar(&format, "format", "table", "输出格式 table|yaml")
	return cmd
}

func writeProportionsTable(w io.Writer, sites []string, ages map[string]int, totals map[string]contract.ProportionRecord) {
	headers := []string{"site", "age_bp"}
	for _, n := range contract.ProportionNames {
		headers = append(headers, string(n))
	}
	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		row := []string{s, strconv.Itoa(ages[s])}
		for _, v := range totals[s].Ordered() {
			row = append(row, strconv.FormatFloat(v, 'f', 4, 64))
		}
		rows = append(rows, row)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

// siteProportions: extract --format yaml 的单站点条目。
type siteProportions struct {
	AgeBP       int                  `yaml:"age_bp"`
	Proportions contract.Proportions `yaml:"proportions"`
}

func writeProportionsYAML(w io.Writer, sites []string, ages map[string]int, totals map[string]contract.ProportionRecord) error {
	out := make(map[string]siteProportions, len(sites))
	for _, s := range sites {
		out[s] = siteProportions{AgeBP: ages[s], Proportions: totals[s].Proportions()}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return runFail(err)
	}
	return enc.Close()
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var member, output string
	cmd := &cobra.Command{
		Use:   "render <landscape.asc|init_lct_maps.zip>",
		Short: "Render a landscape raster (or one archive member) as a PNG preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, cfgpkg.Config{})
			if err != nil {
				return preRun(err)
			}
			prev, codec, err := cfgpkg.Preview(cfg)
			if err != nil {
				return preRun(err)
			}
			land, name, err := readLandscape(cmd, codec, args[0], member)
			if err != nil {
				return runFail(err)
			}
			if output == "" {
				output = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + "." + prev.Ext()
			}
			f, err := os.Create(output)
			if err != nil {
				return runFail(err)
			}
			if err := prev.Render(cmd.Context(), f, land); err != nil {
				_ = f.Close()
				_ = os.Remove(output)
				return runFail(err)
			}
			if err := f.Close(); err != nil {
				return runFail(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "归档中的栅格成员名；缺省为首个栅格成员")
	cmd.Flags().StringVarP(&output, "output", "o", "", "输出 PNG 路径；缺省为 <成员名>.png")
	return cmd
}

var errNoRaster = errors.New("no raster member in archive")

// readLandscape 读取单个栅格文件，或归档中的指定（或首个）栅格成员。
// 返回景观与其名称。
func readLandscape(cmd *cobra.Command, codec contract.RasterCodec, path, member string) (contract.Landscape, string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		f, err := os.Open(path)
		if err != nil {
			return contract.Landscape{}, "", err
		}
		defer f.Close()
		l, err := codec.ReadLandscape(cmd.Context(), f)
		return l, path, err
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return contract.Landscape{}, "", err
	}
	defer zr.Close()
	names := make([]string, 0, len(zr.File))
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if filepath.Ext(f.Name) == "."+codec.Ext() {
			names = append(names, f.Name)
			byName[f.Name] = f
		}
	}
	sort.Strings(names)
	if member == "" {
		if len(names) == 0 {
			return contract.Landscape{}, "", fmt.Errorf("%s: %w", path, errNoRaster)
		}
		member = names[0]
	}
	zf, ok := byName[member]
	if !ok {
		return contract.Landscape{}, "", fmt.Errorf("%s: member %q not found%s", path, member, hint(member, names))
	}
	rc, err := zf.Open()
	if err != nil {
		return contract.Landscape{}, "", err
	}
	defer rc.Close()
	l, err := codec.ReadLandscape(cmd.Context(), rc)
	return l, member, err
}

func hint(s string, names []string) string {
	if h := contract.Suggest(s, names); h != "" {
		return fmt.Sprintf(" (did you mean %q?)", h)
	}
	return ""
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a template " + cfgpkg.DefaultConfigFile + " and .env",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return runFail(err)
			}
			b, err := cfgpkg.MarshalYAML(cfgpkg.DefaultTemplateConfig())
			if err != nil {
				return runFail(err)
			}
			cfgPath := filepath.Join(dir, cfgpkg.DefaultConfigFile)
			if err := writeNew(cfgPath, b); err != nil {
				return runFail(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfgPath)

			envPath := filepath.Join(dir, ".env")
			switch err := writeNew(envPath, []byte(cfgpkg.TemplateEnv())); {
			case errors.Is(err, os.ErrExist):
				fmt.Fprintf(cmd.ErrOrStderr(), "跳过已存在的 %s\n", envPath)
			case err != nil:
				return runFail(err)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), envPath)
			}
			return nil
		},
	}
}

// writeNew 创建新文件；已存在时返回 os.ErrExist。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

