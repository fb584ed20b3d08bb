package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tilext/internal/codec"
	"tilext/internal/geometry"
	"tilext/pkg/contract"
	wfs "tilext/plugins/writer/filesystem"
)

// 单张图像的离线工具：不经过合成后端，仅做几何预处理。

func newSlideCmd() *cobra.Command {
	var input, dir, output string
	cmd := &cobra.Command{
		Use:   "slide",
		Short: "对单张图像做一次三等分滑动，输出带空白带的帧",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := contract.ParseDirection(dir)
			if err != nil {
				fprintf(os.Stderr, "参数错误: %v\n", err)
				return configErr(err)
			}
			src, err := codec.LoadFile(input)
			if err != nil {
				fprintf(os.Stderr, "读取失败: %v\n", err)
				return exitFor(err)
			}
			frame, err := geometry.Slide(src, d)
			if err != nil {
				fprintf(os.Stderr, "滑动失败: %v\n", err)
				return exitFor(err)
			}
			if output == "" {
				output = fmt.Sprintf("slide_%s.png", d)
			}
			if err := writeFile(cmd.Context(), output, frame); err != nil {
				fprintf(os.Stderr, "写出失败: %v\n", err)
				return runtimeErr(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "seed.png", "输入图像路径")
	cmd.Flags().StringVar(&dir, "direction", "right", "滑动方向 left|right|up|down")
	cmd.Flags().StringVar(&output, "output", "", "输出路径（缺省 slide_<direction>.png）")
	return cmd
}

func newZonesCmd() *cobra.Command {
	var input, outDir string
	var compasses []string
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "生成等距视角四个方位填充区的预览图",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			which := geometry.Compasses()
			if len(compasses) > 0 {
				which = nil
				for _, s := range compasses {
					c, err := geometry.ParseCompass(s)
					if err != nil {
						fprintf(os.Stderr, "参数错误: %v\n", err)
						return configErr(err)
					}
					which = append(which, c)
				}
			}
			src, err := codec.LoadFile(input)
			if err != nil {
				fprintf(os.Stderr, "读取失败: %v\n", err)
				return exitFor(err)
			}
			b := src.Bounds()
			zones := geometry.FillZones(b.Dx(), b.Dy())
			for _, c := range which {
				out, err := geometry.PaintZone(src, zones[c])
				if err != nil {
					fprintf(os.Stderr, "绘制失败: %v\n", err)
					return runtimeErr(err)
				}
				path := filepath.Join(outDir, fmt.Sprintf("fill_%s.png", c))
				if err := writeFile(cmd.Context(), path, out); err != nil {
					fprintf(os.Stderr, "写出失败: %v\n", err)
					return runtimeErr(err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "seed.png", "输入图像路径")
	cmd.Flags().StringVar(&outDir, "out-dir", "zones", "预览输出目录")
	cmd.Flags().StringSliceVar(&compasses, "compass", nil, "仅生成指定方位 east|south|west|north（可多次）")
	return cmd
}

// writeFile 经文件系统 Writer 原子写出单张图像。
func writeFile(ctx context.Context, path string, img image.Image) error {
	clean := filepath.Clean(path)
	w, err := wfs.New(&wfs.Options{OutputDir: filepath.Dir(clean)})
	if err != nil {
		return err
	}
	return codec.WriteImage(ctx, w, contract.JoinArtifactID(filepath.Base(clean)), img, codec.FormatForPath(clean))
}
