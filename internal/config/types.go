package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Seed     string `json:"seed"`
	Output   string `json:"output"`
	TraceDir string `json:"trace_dir"`

	// 数值与开关为指针：nil 表示该层未设置，任何出现的值（含 0 与负数）都参与覆盖与校验。
	Horizontal *int `json:"horizontal,omitempty"`
	// Up/Down: 0 具有语义（不做竖直扩展）。
	Up          *int     `json:"up,omitempty"`
	Down        *int     `json:"down,omitempty"`
	HintRatio   *float64 `json:"hint_ratio,omitempty"`
	Concurrency *int     `json:"concurrency,omitempty"`
	// DryRun: 使用 dry 后端，不访问网络、不要求凭据。
	DryRun *bool `json:"dry_run,omitempty"`

	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics"`

	// 方向 → 提示词覆盖（left|right|up|down）。
	Prompts map[string]string `json:"prompts"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 合成 Provider 选择与定义。
	Synth    string              `json:"synth"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Metrics: 非空时在运行结束导出 Prometheus textfile。
type Metrics struct {
	File string `json:"file"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options；output_dir 由装配按用途注入。
type Options struct {
	Writer json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM   int `json:"rpm"`
	Burst int `json:"burst"`
}

// IsDryRun 报告是否启用 dry 后端（未设置视为 false）。
func (c Config) IsDryRun() bool { return c.DryRun != nil && *c.DryRun }

// Int/Float/Bool 返回值的指针，用于构造覆盖层。
func Int(v int) *int           { return &v }
func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool        { return &v }
