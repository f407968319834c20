package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/inference"
	"github.com/TIANLI0/SlideKit/model"
	"github.com/TIANLI0/SlideKit/service"
	"github.com/TIANLI0/SlideKit/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// modelSet 已加载的 ONNX 模型
type modelSet struct {
	segmenter *inference.Segmenter
	detector  *inference.Detector
}

func loadModels(cfg *config.Config) (*modelSet, error) {
	if err := inference.Init(cfg.Models.LibraryPath); err != nil {
		return nil, err
	}

	segmenter, err := inference.NewSegmenter(&cfg.Models.Segmentation, service.NewTiler(&cfg.Tiling))
	if err != nil {
		inference.Destroy()
		return nil, err
	}

	detector, err := inference.NewDetector(&cfg.Models.Detection)
	if err != nil {
		segmenter.Close()
		inference.Destroy()
		return nil, err
	}

	utils.Logger.Info("models loaded",
		zap.String("segmentation", cfg.Models.Segmentation.Path),
		zap.String("detection", cfg.Models.Detection.Path))

	return &modelSet{segmenter: segmenter, detector: detector}, nil
}

func (m *modelSet) Close() {
	m.segmenter.Close()
	m.detector.Close()
	inference.Destroy()
}

func newAnalyzeCmd(cfg *config.Config) *cobra.Command {
	var (
		primaries    []string
		elevations   []string
		before       string
		sunElevation float64
		sunAzimuth   float64
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full analysis on one or more primary/elevation pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(primaries) != len(elevations) {
				return fmt.Errorf("got %d --primary and %d --elevation values", len(primaries), len(elevations))
			}
			if before != "" && len(primaries) > 1 {
				return fmt.Errorf("--before applies to a single pair only")
			}

			models, err := loadModels(cfg)
			if err != nil {
				return err
			}
			defer models.Close()

			pipeline := service.NewPipeline(cfg, models.segmenter, models.detector)

			reqs := make([]service.Request, len(primaries))
			for i := range primaries {
				reqs[i] = service.Request{
					Key:           strings.TrimSuffix(filepath.Base(primaries[i]), filepath.Ext(primaries[i])),
					PrimaryPath:   primaries[i],
					ElevationPath: elevations[i],
					BeforePath:    before,
				}
				if cmd.Flags().Changed("sun-elevation") {
					reqs[i].SunElevation = &sunElevation
				}
				if cmd.Flags().Changed("sun-azimuth") {
					reqs[i].SunAzimuth = &sunAzimuth
				}
			}

			results, errs := pipeline.RunBatch(cmd.Context(), reqs)

			out := make([]*model.AnalysisResponse, 0, len(results))
			failed := 0
			for i, res := range results {
				if errs[i] != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", reqs[i].PrimaryPath, errs[i])
					continue
				}
				out = append(out, pipeline.Response(reqs[i].Key, res))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d analyses failed", failed, len(reqs))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&primaries, "primary", "p", nil, "optical GeoTIFF (repeatable)")
	cmd.Flags().StringSliceVarP(&elevations, "elevation", "e", nil, "elevation GeoTIFF, paired with --primary by position")
	cmd.Flags().StringVar(&before, "before", "", "earlier image for change detection")
	cmd.Flags().Float64Var(&sunElevation, "sun-elevation", 0, "sun elevation angle in degrees")
	cmd.Flags().Float64Var(&sunAzimuth, "sun-azimuth", 0, "sun azimuth in degrees clockwise from north")
	_ = cmd.MarkFlagRequired("primary")
	_ = cmd.MarkFlagRequired("elevation")

	return cmd
}

func newChangeCmd(cfg *config.Config) *cobra.Command {
	var maskPath string

	cmd := &cobra.Command{
		Use:   "change BEFORE AFTER",
		Short: "Detect surface changes between two images",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			detector := service.NewChangeDetector(&cfg.Change)
			result, err := detector.DetectFiles(args[0], args[1])
			if err != nil {
				return err
			}

			if maskPath != "" {
				if err := writeMaskPNG(maskPath, result); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ssim=%.4f threshold=%.0f changed_pixels=%d aligned=%t\n",
				result.Score, result.Threshold, result.Mask.Count(), result.Aligned)
			return nil
		},
	}

	cmd.Flags().StringVarP(&maskPath, "mask", "o", "", "write the change mask as PNG")

	return cmd
}

// writeMaskPNG 把变化掩码写为 PNG
func writeMaskPNG(path string, result *service.ChangeResult) error {
	m, err := service.NewMaskProcessor().FromMask(result.Mask)
	if err != nil {
		return err
	}
	defer m.Close()

	if ok := gocv.IMWrite(path, m); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

func newTileCmd(cfg *config.Config) *cobra.Command {
	var (
		primary   string
		elevation string
		outDir    string
		prefix    string
	)

	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Fuse a primary/elevation pair and write training tiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}

			sample, err := service.NewFuser(&cfg.Pipeline).Fuse(cmd.Context(), primary, elevation)
			if err != nil {
				return err
			}

			if prefix == "" {
				prefix = strings.TrimSuffix(filepath.Base(primary), filepath.Ext(primary))
			}
			paths, err := service.NewTiler(&cfg.Tiling).WriteTraining(sample, outDir, prefix)
			if err != nil {
				return err
			}

			utils.Logger.Info("tiles written",
				zap.String("dir", outDir),
				zap.Int("count", len(paths)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&primary, "primary", "p", "", "optical GeoTIFF")
	cmd.Flags().StringVarP(&elevation, "elevation", "e", "", "elevation GeoTIFF")
	cmd.Flags().StringVarP(&outDir, "out", "o", "tiles", "output directory")
	cmd.Flags().StringVar(&prefix, "prefix", "", "tile file name prefix (defaults to the primary file name)")
	_ = cmd.MarkFlagRequired("primary")
	_ = cmd.MarkFlagRequired("elevation")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "SlideKit %s (build %s, id %s, commit %s, branch %s)\n",
				Version, BuildTime, BuildID, GitCommit, GitBranch)
		},
	}
}
