//go:build !windows

package filesystem

import (
	"os"
	"path/filepath"
)

// replaceFile: POSIX rename 本身即原子替换；随后最佳努力 fsync 父目录，使新目录项落盘。
func replaceFile(tmpPath, dest string) error {
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}
	if d, err := os.Open(filepath.Dir(dest)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
