package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// DeriveKeyFromProviderOptions 从合成客户端标识与其原样 Options JSON 中提取 API Key，
// 并返回按 client+sha256(key) 构造的限流分组键。找不到 key 时返回错误。
// 仅解析通用键名 "api_key" 与 "api_key_env"；dry/flaky 等离线客户端使用客户端名作为键。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	switch client {
	case "dry", "flaky":
		return LimitKey(client), nil
	}
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	pick := func(key string) string {
		if s, ok := obj[key].(string); ok {
			return s
		}
		return ""
	}
	key := pick("api_key")
	if key == "" {
		env := pick("api_key_env")
		if env == "" && client == "fal" {
			env = "FAL_KEY"
		}
		if env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:])), nil
}
