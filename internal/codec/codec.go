// Package codec 负责种子/结果图像的解码与编码，并把任意图像归一为不透明瓦片。
package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	// 额外解码格式（image.Decode 注册）
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"tilext/pkg/contract"
)

// JPEGQuality: JPEG 编码质量（追踪工件与 .jpg 输出共用）。
const JPEGQuality = 95

// Decode 从 r 解码任意已注册格式并归一为瓦片。
func Decode(r io.Reader) (*image.RGBA, string, error) {
	img, name, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %v", contract.ErrResponseInvalid, err)
	}
	return ToTile(img), name, nil
}

// DecodeBytes 为 Decode 的字节切片形式。
func DecodeBytes(b []byte) (*image.RGBA, error) {
	t, _, err := Decode(bytes.NewReader(b))
	return t, err
}

// LoadFile 读取并解码本地图像文件（通常为种子）。
// 文件缺失归为 ErrConfiguration。
func LoadFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: image not found: %s", contract.ErrConfiguration, path)
		}
		return nil, err
	}
	defer f.Close()
	t, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ToTile 把任意图像平铺到白底上，得到原点对齐、全不透明的 RGBA。
// 已满足条件的 *image.RGBA 也会复制，保证调用方持有独立缓冲。
func ToTile(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// FormatForPath 按扩展名选择输出格式：.jpg/.jpeg → JPEG，其余 PNG。
func FormatForPath(p string) contract.Format {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jpg", ".jpeg":
		return contract.JPEG
	default:
		return contract.PNG
	}
}

// Encode 以指定格式写出图像。
func Encode(w io.Writer, img image.Image, f contract.Format) error {
	switch f {
	case contract.JPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case contract.PNG, "":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("%w: unsupported format %q", contract.ErrInvalidInput, f)
	}
}

// EncodeBytes 为 Encode 的字节切片形式。
func EncodeBytes(img image.Image, f contract.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteImage 编码并通过 Writer 持久化到 id。
func WriteImage(ctx context.Context, w contract.Writer, id contract.ArtifactID, img image.Image, f contract.Format) error {
	b, err := EncodeBytes(img, f)
	if err != nil {
		return err
	}
	return w.Write(ctx, id, bytes.NewReader(b))
}
