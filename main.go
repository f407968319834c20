package main

import (
	"fmt"
	"os"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/geotiff"
	"github.com/TIANLI0/SlideKit/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:          "slidekit",
		Short:        "Landslide and boulder analysis for orbital imagery and elevation models",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 加载配置
			loaded, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "using default config: %v\n", err)
				loaded = config.Default()
			}
			*cfg = *loaded
			geotiff.MaxSamples = cfg.Pipeline.MaxRasterSamples

			// 初始化日志
			if err := utils.InitLogger(cfg.Server.Mode); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			utils.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		newServeCmd(cfg),
		newAnalyzeCmd(cfg),
		newChangeCmd(cfg),
		newTileCmd(cfg),
		newVersionCmd(),
	)

	return root
}
