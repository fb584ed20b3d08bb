package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"tilext/pkg/contract"
	"tilext/plugins/synth/dry"
	"tilext/plugins/synth/fal"
	"tilext/plugins/synth/flaky"
	wfs "tilext/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: options: %v", contract.ErrConfiguration, err)
	}
	return nil
}

// NewSynth 工厂签名：接收原样 JSON Options。
type NewSynth func(raw json.RawMessage) (contract.Synthesizer, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Synth 合成后端注册表（显式、零反射）。
var Synth = map[string]NewSynth{
	// fal: 远端同步推理（需要 FAL_KEY）
	"fal": func(raw json.RawMessage) (contract.Synthesizer, error) {
		var opts fal.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fal.New(raw)
	},
	// dry: 原样回显，无网络
	"dry": func(raw json.RawMessage) (contract.Synthesizer, error) {
		var opts dry.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dry.New(raw)
	},
	// flaky: 第 N 次调用失败（联调/测试）
	"flaky": func(raw json.RawMessage) (contract.Synthesizer, error) {
		var opts flaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.New(raw)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（默认原子替换、保留子目录）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// SynthNames 返回已注册的合成后端名（排序）。
func SynthNames() []string {
	out := make([]string, 0, len(Synth))
	for k := range Synth {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
