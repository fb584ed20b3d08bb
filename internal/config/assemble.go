package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"tilext/internal/pipeline"
	"tilext/internal/prompt"
	"tilext/internal/rate"
	"tilext/internal/trace"
	"tilext/pkg/contract"
	"tilext/pkg/registry"
)

// DryProvider: --dry-run 时使用的 provider 名。
const DryProvider = "dry"

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w: %s", contract.ErrConfiguration, fmt.Sprintf(format, args...))
}

// EffectiveSynth 返回实际使用的 provider 名（dry-run 优先）。
func EffectiveSynth(cfg Config) string {
	if cfg.IsDryRun() {
		return DryProvider
	}
	return cfg.Synth
}

func effProvider(cfg Config) (Provider, bool) {
	if cfg.IsDryRun() {
		if p, ok := cfg.Provider[DryProvider]; ok && p.Client == "dry" {
			return p, true
		}
		return Provider{Client: "dry"}, true
	}
	p, ok := cfg.Provider[cfg.Synth]
	return p, ok
}

// Validate 对最小必要边界做静态校验；错误均包裹 ErrConfiguration。
// 不检查文件是否存在（由入口预检）。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Seed) == "" {
		return invalid("seed path is empty")
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return invalid("output path is empty")
	}
	switch {
	case cfg.Horizontal == nil:
		return invalid("horizontal not set")
	case cfg.Up == nil || cfg.Down == nil:
		return invalid("up/down not set")
	case cfg.HintRatio == nil:
		return invalid("hint_ratio not set")
	case cfg.Concurrency == nil:
		return invalid("concurrency not set")
	}
	if err := checkRanges(cfg); err != nil {
		return err
	}
	if _, err := prompt.NewTable(cfg.Prompts); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if !cfg.IsDryRun() && cfg.Synth == "" {
		return invalid("synth not set")
	}
	prov, ok := effProvider(cfg)
	if !ok {
		return invalid("provider %q not found", cfg.Synth)
	}
	if prov.Client == "" {
		return invalid("provider %q missing client", cfg.Synth)
	}
	if registry.Synth[prov.Client] == nil {
		return invalid("synth client %q not registered", prov.Client)
	}
	if prov.Limits.RPM < 0 || prov.Limits.Burst < 0 {
		return invalid("provider %q limits must be >= 0", cfg.Synth)
	}
	return nil
}

// checkRanges 校验已出现的数值字段；nil（未设置）跳过。
// 供 LoadJSON/EnvOverlay 在解析时即拒绝越界值，也供 Validate 复用。
func checkRanges(cfg Config) error {
	if v := cfg.Horizontal; v != nil && *v < 1 {
		return invalid("horizontal must be at least 1 to provide diagonal guidance, got %d", *v)
	}
	if v := cfg.Up; v != nil && *v < 0 {
		return invalid("up must be >= 0, got %d", *v)
	}
	if v := cfg.Down; v != nil && *v < 0 {
		return invalid("down must be >= 0, got %d", *v)
	}
	if v := cfg.HintRatio; v != nil && !(*v > 0 && *v < 1) {
		return invalid("hint_ratio must be in (0,1), got %v", *v)
	}
	if v := cfg.Concurrency; v != nil && *v < 1 {
		return invalid("concurrency must be >= 1, got %d", *v)
	}
	return nil
}

// Assemble 构造 Components、Settings 与限流 Gate+Key。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// 输出写到 output 所在目录；追踪写到 trace_dir（为空则为 trace.Nop）。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
	fail := func(err error) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	if err := Validate(cfg); err != nil {
		return fail(err)
	}
	wn := effName(cfg.Components.Writer, Defaults().Components.Writer)

	// 最终画布 Writer：根为 output 所在目录，id 为文件名
	clean := filepath.Clean(cfg.Output)
	outDir, outName := filepath.Dir(clean), filepath.Base(clean)
	raw, err := withOutputDir(cfg.Options.Writer, outDir)
	if err != nil {
		return fail(err)
	}
	w, err := registry.Writer[wn](raw)
	if err != nil {
		return fail(err)
	}

	// 追踪 Writer；未配置目录时丢弃
	sink := trace.Nop()
	if td := strings.TrimSpace(cfg.TraceDir); td != "" {
		raw, err := withOutputDir(cfg.Options.Writer, td)
		if err != nil {
			return fail(err)
		}
		tw, err := registry.Writer[wn](raw)
		if err != nil {
			return fail(err)
		}
		sink = trace.NewRecorder(tw)
	}

	// 合成后端
	prov, _ := effProvider(cfg)
	syn, err := registry.Synth[prov.Client](prov.Options)
	if err != nil {
		return fail(err)
	}

	prompts, err := prompt.NewTable(cfg.Prompts)
	if err != nil {
		return fail(err)
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key）
	// 默认使用 API Key 派生分组键（更稳定）；若失败则退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(EffectiveSynth(cfg))
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{key: {RPM: prov.Limits.RPM, Burst: prov.Limits.Burst}})

	comp := pipeline.Components{Synth: syn, Trace: sink, Writer: w}
	set := pipeline.Settings{
		SeedPath:    cfg.Seed,
		Output:      contract.JoinArtifactID(outName),
		Horizontal:  *cfg.Horizontal,
		Up:          *cfg.Up,
		Down:        *cfg.Down,
		HintRatio:   *cfg.HintRatio,
		Concurrency: *cfg.Concurrency,
		Prompts:     prompts,
		Gate:        gate,
		GateKey:     key,
	}
	return comp, set, gate, key, nil
}

// withOutputDir 在 writer options 上注入 output_dir（覆盖同名键）。
func withOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, invalid("options.writer: %v", err)
		}
	}
	b, _ := json.Marshal(dir)
	m["output_dir"] = b
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
