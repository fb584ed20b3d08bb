package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "tilext/internal/config"
)

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录中生成默认 config.json 与 .env 模板（已存在则不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			cfg := cfgpkg.DefaultTemplateConfig()
			if dir == "-" {
				if err := writeConfig("-", cfg); err != nil {
					return runtimeErr(err)
				}
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
				return configErr(err)
			}
			if err := writeConfig(filepath.Join(dir, "config.json"), cfg); err != nil {
				fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
				return configErr(err)
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
}

// writeConfig 写出缩进 JSON；"-" 表示 stdout；不覆盖已存在文件。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export "；
// - 仅按首个 '=' 分割；若 value 被成对引号包裹则去除外层引号，双引号内处理 \n/\t/\\/\"；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			q := val[0]
			val = val[1 : len(val)-1]
			if q == '"' {
				val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// writeDotEnv 生成 .env 模板；文件已存在时跳过。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# tilext .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		fmt.Fprintf(&b, "%s%s=\n", cfgpkg.EnvPrefix, k)
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{
		"SEED", "OUTPUT", "TRACE_DIR", "HORIZONTAL", "UP", "DOWN", "HINT_RATIO",
		"CONCURRENCY", "DRY_RUN", "SYNTH", "LOG_LEVEL", "METRICS_FILE", "COMPONENTS_WRITER",
	} {
		fmt.Fprintf(&b, "%s%s=\n", cfgpkg.EnvPrefix, k)
	}
	b.WriteString("\n# 方向提示词覆盖\n")
	for _, d := range []string{"LEFT", "RIGHT", "UP", "DOWN"} {
		fmt.Fprintf(&b, "%sPROMPT_%s=\n", cfgpkg.EnvPrefix, d)
	}
	b.WriteString("\n# Provider 覆盖（fal）\n")
	for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_BURST", "OPTIONS_JSON"} {
		fmt.Fprintf(&b, "%sPROVIDER__fal__%s=\n", cfgpkg.EnvPrefix, k)
	}
	b.WriteString("\n# 供应商 API Key（由 fal 客户端读取，不经前缀）\n")
	b.WriteString("FAL_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
