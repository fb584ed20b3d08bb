package fal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"tilext/internal/codec"
	"tilext/pkg/contract"
)

// LoRA: 适配器权重（path 为可下载 URL）。
type LoRA struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

// Options: fal 同步推理端点的最小必需配置。
type Options struct {
	BaseURL             string            `json:"base_url"`              // 例如 https://fal.run
	Model               string            `json:"model"`                 // 端点路径，例如 fal-ai/flux-kontext-lora
	APIKeyEnv           string            `json:"api_key_env"`           // 优先从环境变量读取
	APIKey              string            `json:"api_key"`               // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds      int               `json:"timeout_seconds"`       // 推理请求超时（秒），默认 120
	FetchTimeoutSeconds int               `json:"fetch_timeout_seconds"` // 结果下载超时（秒），默认 60
	Steps               int               `json:"num_inference_steps"`
	Guidance            float64           `json:"guidance_scale"`
	LoRAs               []LoRA            `json:"loras"`
	Acceleration        string            `json:"acceleration"`
	ResolutionMode      string            `json:"resolution_mode"`
	SafetyChecker       *bool             `json:"enable_safety_checker,omitempty"`
	ExtraHeaders        map[string]string `json:"extra_headers"`
}

// DefaultLoRA 为内置的补全适配器。
const DefaultLoRA = "https://v3.fal.media/files/monkey/o8_EQPk4RJRPeCSQjuCtZ_adapter_model.safetensors"

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://fal.run"
	}
	if o.Model == "" {
		o.Model = "fal-ai/flux-kontext-lora"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "FAL_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 120
	}
	if o.FetchTimeoutSeconds <= 0 {
		o.FetchTimeoutSeconds = 60
	}
	if o.Steps <= 0 {
		o.Steps = 30
	}
	if o.Guidance <= 0 {
		o.Guidance = 2.5
	}
	if o.LoRAs == nil {
		o.LoRAs = []LoRA{{Path: DefaultLoRA, Scale: 1.0}}
	}
	if o.Acceleration == "" {
		o.Acceleration = "none"
	}
	if o.ResolutionMode == "" {
		o.ResolutionMode = "1:1"
	}
	if o.SafetyChecker == nil {
		on := true
		o.SafetyChecker = &on
	}
}

type Client struct {
	url    string
	apiKey string
	opts   Options
	do     func(*http.Request) (*http.Response, error)
	fetch  func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端；缺少 key 返回 ErrConfiguration。
func New(raw json.RawMessage) (contract.Synthesizer, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("fal options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("fal: %w: missing api key (%s)", contract.ErrConfiguration, opts.APIKeyEnv)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	fc := &http.Client{Timeout: time.Duration(opts.FetchTimeoutSeconds) * time.Second}
	base := strings.TrimRight(opts.BaseURL, "/")
	model := strings.TrimLeft(opts.Model, "/")
	return &Client{
		url:    base + "/" + model,
		apiKey: key,
		opts:   opts,
		do:     hc.Do,
		fetch:  fc.Do,
	}, nil
}

type falReq struct {
	Prompt         string  `json:"prompt"`
	ImageURL       string  `json:"image_url"`
	Steps          int     `json:"num_inference_steps"`
	Guidance       float64 `json:"guidance_scale"`
	NumImages      int     `json:"num_images"`
	SafetyChecker  bool    `json:"enable_safety_checker"`
	OutputFormat   string  `json:"output_format"`
	LoRAs          []LoRA  `json:"loras"`
	Acceleration   string  `json:"acceleration"`
	ResolutionMode string  `json:"resolution_mode"`
	SyncMode       bool    `json:"sync_mode"`
}

type falResp struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("fal upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// Synthesize: 单次同步推理，返回解码后的首张结果图。
func (c *Client) Synthesize(ctx context.Context, req contract.SynthRequest) (image.Image, error) {
	if req.Image == nil {
		return nil, fmt.Errorf("fal: %w: nil image", contract.ErrInvalidInput)
	}
	png, err := codec.EncodeBytes(req.Image, contract.PNG)
	if err != nil {
		return nil, fmt.Errorf("fal encode: %w", err)
	}
	body, err := json.Marshal(&falReq{
		Prompt:         req.Prompt,
		ImageURL:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Steps:          c.opts.Steps,
		Guidance:       c.opts.Guidance,
		NumImages:      1,
		SafetyChecker:  *c.opts.SafetyChecker,
		OutputFormat:   "jpeg",
		LoRAs:          c.opts.LoRAs,
		Acceleration:   c.opts.Acceleration,
		ResolutionMode: c.opts.ResolutionMode,
		SyncMode:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	hr.Header.Set("Authorization", "Key "+c.apiKey)
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	for k, v := range c.opts.ExtraHeaders {
		if k == "" {
			continue
		}
		hr.Header.Set(k, v)
	}

	resp, err := c.do(hr)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}
	var fr falResp
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(fr.Images) == 0 || strings.TrimSpace(fr.Images[0].URL) == "" {
		return nil, fmt.Errorf("fal: no images: %w", contract.ErrResponseInvalid)
	}
	b, err := c.resolve(ctx, fr.Images[0].URL)
	if err != nil {
		return nil, err
	}
	img, err := codec.DecodeBytes(b)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// statusError 按状态码分类：429 限流；408/5xx 上游；其余 4xx 输入无效。
func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.ErrRateLimited
	}
	if resp.StatusCode/100 == 2 {
		return nil
	}
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(slurp))
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
		return upstreamError{status: resp.StatusCode, msg: msg}
	}
	return fmt.Errorf("fal upstream %d: %w", resp.StatusCode, contract.ErrInvalidInput)
}

// resolve 取回结果字节：data: URI 直接解码；http(s) 以独立超时下载。
func (c *Client) resolve(ctx context.Context, u string) ([]byte, error) {
	if strings.HasPrefix(u, "data:") {
		i := strings.IndexByte(u, ',')
		if i < 0 || !strings.Contains(u[:i], ";base64") {
			return nil, fmt.Errorf("fal: malformed data uri: %w", contract.ErrResponseInvalid)
		}
		b, err := base64.StdEncoding.DecodeString(u[i+1:])
		if err != nil {
			return nil, fmt.Errorf("fal: data uri: %v: %w", err, contract.ErrResponseInvalid)
		}
		return b, nil
	}
	if !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
		return nil, fmt.Errorf("fal: unsupported result url: %w", contract.ErrResponseInvalid)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fal fetch: %v: %w", err, contract.ErrResponseInvalid)
	}
	resp, err := c.fetch(hr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fal fetch read: %w", err)
	}
	return b, nil
}

var _ contract.Synthesizer = (*Client)(nil)
