package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "TILEXT_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Seed:        "seed.png",
		Output:      "extended_grid.png",
		TraceDir:    "trace_full",
		Horizontal:  Int(3),
		Up:          Int(3),
		Down:        Int(3),
		HintRatio:   Float(0.18),
		Concurrency: Int(1),
		DryRun:      Bool(false),
		Logging:     Logging{Level: "info"},
		Components:  Components{Writer: "fs"},
		Synth:       "fal",
		Provider: map[string]Provider{
			"fal": {Client: "fal"},
			"dry": {Client: "dry"},
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 未出现的数值字段保持 nil；出现但越界的值返回 ErrConfiguration。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	if err := checkRanges(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 字符串空值与 nil 指针视为未设置；map 按键替换；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Seed); s != "" {
		out.Seed = s
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	if s := strings.TrimSpace(over.TraceDir); s != "" {
		out.TraceDir = s
	}
	// 数值与开关：出现即覆盖（含 0 与 false）
	if over.Horizontal != nil {
		out.Horizontal = Int(*over.Horizontal)
	}
	if over.Up != nil {
		out.Up = Int(*over.Up)
	}
	if over.Down != nil {
		out.Down = Int(*over.Down)
	}
	if over.HintRatio != nil {
		out.HintRatio = Float(*over.HintRatio)
	}
	if over.Concurrency != nil {
		out.Concurrency = Int(*over.Concurrency)
	}
	if over.DryRun != nil {
		out.DryRun = Bool(*over.DryRun)
	}
	if lv := strings.TrimSpace(over.Logging.Level); lv != "" {
		out.Logging.Level = lv
	}
	if f := strings.TrimSpace(over.Metrics.File); f != "" {
		out.Metrics.File = f
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if len(over.Prompts) > 0 {
		m := make(map[string]string, len(out.Prompts)+len(over.Prompts))
		for k, v := range out.Prompts {
			m[k] = v
		}
		for k, v := range over.Prompts {
			m[k] = v
		}
		out.Prompts = m
	}
	// Provider：按键逐字段覆盖（空值不覆盖）
	if len(over.Provider) > 0 {
		m := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			m[k] = v
		}
		for k, v := range over.Provider {
			m[k] = mergeProvider(m[k], v)
		}
		out.Provider = m
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if s := strings.TrimSpace(over.Synth); s != "" {
		out.Synth = s
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 TILEXT_；非本集合的键与空值忽略；数值解析失败返回错误（带键名）。
// 支持：SEED, OUTPUT, TRACE_DIR, HORIZONTAL, UP, DOWN, HINT_RATIO, CONCURRENCY, DRY_RUN,
// SYNTH, LOG_LEVEL, METRICS_FILE, COMPONENTS_WRITER, PROMPT_<DIR>,
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,BURST} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := strings.TrimSpace(kv[eq+1:])
		nk := strings.TrimPrefix(key, EnvPrefix)
		// 空值视为未设置（.env 模板默认留空）
		if val == "" {
			continue
		}
		var err error
		switch nk {
		case "SEED":
			over.Seed = val
		case "OUTPUT":
			over.Output = val
		case "TRACE_DIR":
			over.TraceDir = val
		case "HORIZONTAL":
			over.Horizontal, err = atoiPtr(val)
		case "UP":
			over.Up, err = atoiPtr(val)
		case "DOWN":
			over.Down, err = atoiPtr(val)
		case "HINT_RATIO":
			var f float64
			if f, err = strconv.ParseFloat(val, 64); err == nil {
				over.HintRatio = Float(f)
			}
		case "CONCURRENCY":
			over.Concurrency, err = atoiPtr(val)
		case "DRY_RUN":
			var b bool
			if b, err = strconv.ParseBool(val); err == nil {
				over.DryRun = Bool(b)
			}
		case "SYNTH":
			over.Synth = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "METRICS_FILE":
			over.Metrics.File = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "CONFIG_FILE", "CONFIG_JSON":
			// 由入口处理
		default:
			if d, ok := strings.CutPrefix(nk, "PROMPT_"); ok {
				if val != "" {
					if over.Prompts == nil {
						over.Prompts = map[string]string{}
					}
					over.Prompts[strings.ToLower(d)] = val
				}
				continue
			}
			// provider.* 路径：PROVIDER__name__FOO
			if strings.HasPrefix(nk, "PROVIDER__") {
				parts := strings.Split(nk, "__")
				if len(parts) < 3 {
					continue
				}
				name := strings.TrimSpace(parts[1])
				field := strings.Join(parts[2:], "__")
				p, seen := prov[name]
				changed := false
				switch field {
				case "CLIENT":
					if val != "" {
						p.Client = val
						changed = true
					}
				case "LIMITS_RPM":
					if p.Limits.RPM, err = atoi(val); err == nil {
						changed = true
					}
				case "LIMITS_BURST":
					if p.Limits.Burst, err = atoi(val); err == nil {
						changed = true
					}
				case "OPTIONS_JSON":
					// 原样 JSON；空值视为未设置，避免清空现有配置
					if val != "" {
						if !json.Valid([]byte(val)) {
							err = errors.New("invalid json")
						} else {
							p.Options = json.RawMessage(val)
							changed = true
						}
					}
				}
				// 仅在发生有效变更时记录该 provider；避免空值覆盖 config.json
				if changed || seen {
					prov[name] = p
				}
			}
		}
		if err != nil {
			return over, fmt.Errorf("env %s: %w", key, err)
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	if err := checkRanges(over); err != nil {
		return over, fmt.Errorf("env: %w", err)
	}
	return over, nil
}

func mergeProvider(base, over Provider) Provider {
	out := base
	if over.Client != "" {
		out.Client = over.Client
	}
	if len(over.Options) > 0 {
		out.Options = cloneRaw(over.Options)
	}
	if over.Limits.RPM != 0 {
		out.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.Burst != 0 {
		out.Limits.Burst = over.Limits.Burst
	}
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func atoiPtr(s string) (*int, error) {
	v, err := atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
