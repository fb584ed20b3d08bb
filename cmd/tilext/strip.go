package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"tilext/internal/diag"
	"tilext/internal/pipeline"
	"tilext/pkg/contract"
)

// newStripCmd: 单向条带模式，只沿一个水平方向扩展 --horizontal 块，写出一行画布。
func newStripCmd() *cobra.Command {
	o := &rootOpts{outputFallback: "seed_extended.png"}
	var dir string
	cmd := &cobra.Command{
		Use:   "strip",
		Short: "只向一侧水平扩展种子，输出单行条带（缺省 seed_extended.png）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := contract.ParseDirection(dir)
			if err == nil && d.Axis() != contract.Horizontal {
				err = contract.ErrConfiguration
			}
			if err != nil {
				fprintf(os.Stderr, "参数错误: --direction %q: %v\n", dir, err)
				return configErr(err)
			}
			return runPipeline(cmd, o, func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (pipeline.Result, error) {
				return stripRun(ctx, comp, set, d, logger)
			})
		},
	}
	bindRunFlags(cmd, o)
	cmd.Flags().StringVar(&dir, "direction", "right", "扩展方向 left|right")
	return cmd
}
