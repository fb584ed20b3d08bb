package contract

import (
	"path"
	"strings"
)

// JoinArtifactID 以正斜杠拼接片段并规范化，得到跨平台稳定的 ArtifactID。
// 规则：
// - 反斜杠统一为正斜杠；
// - 清理多余分隔符与 . / .. 片段；
// - 不做绝对化，越界由 Writer 判定。
func JoinArtifactID(parts ...string) ArtifactID {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		clean = append(clean, strings.ReplaceAll(p, "\\", "/"))
	}
	return ArtifactID(path.Clean(path.Join(clean...)))
}
