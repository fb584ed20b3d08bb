package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认 provider 为 fal（凭据来自 FAL_KEY）；dry/flaky 便于离线调试；
// - 扩展参数与默认值一致；
// - 选项给出全部键与安全中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Prompts = map[string]string{
		"left":  "fill in the blank area on the left",
		"right": "fill in the blank area on the right",
		"up":    "fill in the blank area on the top",
		"down":  "fill in the blank area on the bottom",
	}
	cfg.Provider = map[string]Provider{
		"fal": {
			Client: "fal",
			// 覆盖全部 fal 选项键，值为默认
			Options: json.RawMessage(`{
  "base_url": "https://fal.run",
  "model": "fal-ai/flux-kontext-lora",
  "api_key_env": "FAL_KEY",
  "api_key": "",
  "timeout_seconds": 120,
  "fetch_timeout_seconds": 60,
  "num_inference_steps": 30,
  "guidance_scale": 2.5,
  "loras": [{"path": "https://v3.fal.media/files/monkey/o8_EQPk4RJRPeCSQjuCtZ_adapter_model.safetensors", "scale": 1.0}],
  "acceleration": "none",
  "resolution_mode": "1:1",
  "enable_safety_checker": true,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 30, Burst: 1},
		},
		"dry": {Client: "dry", Options: json.RawMessage(`{}`)},
		"flaky": {
			Client:  "flaky",
			Options: json.RawMessage(`{"fail_on": 3, "delay_ms": 0, "log_path": ""}`),
		},
	}
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "flat": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
