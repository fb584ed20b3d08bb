package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "tilext/internal/config"
	"tilext/internal/diag"
	"tilext/internal/pipeline"
	"tilext/pkg/contract"
)

var (
	pipelineRun = pipeline.Run
	stripRun    = pipeline.Strip
)

// runner 执行一次装配好的运行（完整网格或单向条带）。
type runner func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (pipeline.Result, error)

// 退出码：0 成功；3 合成前的配置/装配错误；1 运行期失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// exitError 携带退出码穿过 cobra 的错误返回。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error  { return &exitError{code: exitConfig, err: err} }
func runtimeErr(err error) error { return &exitError{code: exitRuntime, err: err} }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 旗标/参数解析错误
	fprintf(os.Stderr, "参数错误: %v\n", err)
	return exitConfig
}

type rootOpts struct {
	config      string
	seed        string
	output      string
	traceDir    string
	synth       string
	logLevel    string
	horizontal  int
	up          int
	down        int
	concurrency int
	hintRatio   float64
	dryRun      bool
	status      bool
	// outputFallback: 未显式给出 --output 时使用的输出路径（子命令专用）。
	outputFallback string
}

func newRootCmd() *cobra.Command {
	o := &rootOpts{}
	cmd := &cobra.Command{
		Use:           "tilext",
		Short:         "从单张种子瓦片向四周扩展出一张拼接网格",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, o, pipelineRun)
		},
	}
	bindRunFlags(cmd, o)
	cmd.AddCommand(newInitConfigCmd(), newStripCmd(), newSlideCmd(), newZonesCmd())
	return cmd
}

// bindRunFlags 注册主命令与 strip 共用的运行旗标。
func bindRunFlags(cmd *cobra.Command, o *rootOpts) {
	f := cmd.Flags()
	f.StringVar(&o.config, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	f.StringVar(&o.seed, "seed", "", "种子图像路径")
	f.StringVar(&o.output, "output", "", "最终拼接画布输出路径（.png 或 .jpg）")
	f.StringVar(&o.traceDir, "trace-dir", "", "追踪工件目录")
	f.IntVar(&o.horizontal, "horizontal", 0, "水平扩展迭代次数（>=1）")
	f.IntVar(&o.up, "up", 0, "向上扩展行数（0 表示不扩展）")
	f.IntVar(&o.down, "down", 0, "向下扩展行数（0 表示不扩展）")
	f.Float64Var(&o.hintRatio, "hint-ratio", 0, "对角边缘提示条宽度占瓦片宽度的比例，(0,1)")
	f.BoolVar(&o.dryRun, "dry-run", false, "使用 dry 后端（原样回显，不访问网络）")
	f.StringVar(&o.synth, "synth", "", "provider 名称（覆盖配置）")
	f.IntVar(&o.concurrency, "concurrency", 0, "阶段内并行链数（覆盖配置）")
	f.StringVar(&o.logLevel, "log-level", "", "日志等级 debug|info|warn|error")
	f.BoolVar(&o.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
}

// loadConfig 按优先级合并：默认 < JSON（ENV 或文件）< ENV 覆盖 < CLI 旗标。
func loadConfig(cmd *cobra.Command, o *rootOpts) (cfgpkg.Config, error) {
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	path := o.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" && len(cfgJSON) == 0 {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(path, cfgJSON)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	cfg = cfgpkg.Merge(cfg, cliOverlay(cmd, o))
	if o.outputFallback != "" && !cmd.Flags().Changed("output") {
		cfg.Output = o.outputFallback
	}
	return cfg, nil
}

// cliOverlay 只收集显式给出的旗标（含 0、负数与 --dry-run=false），未给出的保持 nil。
func cliOverlay(cmd *cobra.Command, o *rootOpts) cfgpkg.Config {
	var over cfgpkg.Config
	set := cmd.Flags().Changed
	if set("seed") {
		over.Seed = o.seed
	}
	if set("output") {
		over.Output = o.output
	}
	if set("trace-dir") {
		over.TraceDir = o.traceDir
	}
	if set("horizontal") {
		over.Horizontal = cfgpkg.Int(o.horizontal)
	}
	if set("up") {
		over.Up = cfgpkg.Int(o.up)
	}
	if set("down") {
		over.Down = cfgpkg.Int(o.down)
	}
	if set("hint-ratio") {
		over.HintRatio = cfgpkg.Float(o.hintRatio)
	}
	if set("concurrency") {
		over.Concurrency = cfgpkg.Int(o.concurrency)
	}
	if set("synth") {
		over.Synth = o.synth
	}
	if set("log-level") {
		over.Logging.Level = o.logLevel
	}
	if set("dry-run") {
		over.DryRun = cfgpkg.Bool(o.dryRun)
	}
	return over
}

func runPipeline(cmd *cobra.Command, o *rootOpts, exec runner) error {
	start := time.Now()
	corrID := uuid.NewString()

	cfg, err := loadConfig(cmd, o)
	if err != nil {
		fprintf(os.Stderr, "%v\n", err)
		return configErr(err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(os.Stderr, cfg)
		return configErr(err)
	}

	logger := diag.NewLogger(corrID, cfg.Logging.Level)
	defer func() { _ = logger.Sync() }()

	if err := preflight(cfg); err != nil {
		fprintf(os.Stderr, "预检失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr(err)
	}

	comp, set, _, _, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr(err)
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, o.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(*cfg.Concurrency, cfgpkg.EffectiveSynth(cfg))

	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))

	res, err := exec(cmd.Context(), comp, set, logger)
	if f := strings.TrimSpace(cfg.Metrics.File); f != "" {
		if merr := diag.WriteMetrics(f); merr != nil {
			logger.Warn("metrics", string(diag.Classify(merr)), merr.Error(), "", "", nil)
		}
	}
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, 0, time.Since(start))
		return exitFor(err)
	}
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, res.Tiles, time.Since(start))
	return nil
}

// exitFor: 种子尺寸或配置类错误发生在任何合成之前，归为配置错误。
func exitFor(err error) error {
	if errors.Is(err, contract.ErrConfiguration) || errors.Is(err, contract.ErrInvalidGeometry) {
		return configErr(err)
	}
	return runtimeErr(err)
}

// effectiveKV 输出运行时配置摘要（不含密钥）。
func effectiveKV(cfg cfgpkg.Config) map[string]string {
	kv := map[string]string{
		"seed":        cfg.Seed,
		"output":      cfg.Output,
		"trace_dir":   cfg.TraceDir,
		"horizontal":  strconv.Itoa(*cfg.Horizontal),
		"up":          strconv.Itoa(*cfg.Up),
		"down":        strconv.Itoa(*cfg.Down),
		"hint_ratio":  strconv.FormatFloat(*cfg.HintRatio, 'f', -1, 64),
		"concurrency": strconv.Itoa(*cfg.Concurrency),
		"synth":       cfgpkg.EffectiveSynth(cfg),
		"writer":      cfg.Components.Writer,
	}
	if p, ok := cfg.Provider[cfgpkg.EffectiveSynth(cfg)]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

// preflight: 种子必须存在；输出与追踪目录必须可写（不存在时检查父目录）。
func preflight(cfg cfgpkg.Config) error {
	st, err := os.Stat(cfg.Seed)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: seed not found: %s", contract.ErrConfiguration, cfg.Seed)
		}
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%w: seed is a directory: %s", contract.ErrConfiguration, cfg.Seed)
	}
	dirs := []string{filepath.Dir(filepath.Clean(cfg.Output))}
	if td := strings.TrimSpace(cfg.TraceDir); td != "" {
		dirs = append(dirs, td)
	}
	for _, d := range dirs {
		if err := checkWritableDir(d); err != nil {
			return fmt.Errorf("%w: %s: %v", contract.ErrConfiguration, d, err)
		}
	}
	return nil
}

// checkWritableDir:
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：向上找到最近的已存在祖先并尝试在其中创建临时目录。
func checkWritableDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	return checkWritableDir(parent)
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	// 密钥不回显
	red := c
	red.Provider = make(map[string]cfgpkg.Provider, len(c.Provider))
	for k, p := range c.Provider {
		p.Options = nil
		red.Provider[k] = p
	}
	b, err := json.MarshalIndent(red, "", "  ")
	if err != nil {
		return err
	}
	fprintf(w, "有效配置:\n%s\n", b)
	return nil
}
