package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"toolbox/internal/api"
	"toolbox/internal/fileutil"
	"toolbox/internal/imaging"
)

func newCompressImageCommand(ctx *commandContext) *cobra.Command {
	var (
		opts       imaging.Options
		output     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "compress-image <file>",
		Short: "Re-encode an image as a smaller JPEG or PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, info, err := resolveInputFile(args[0])
			if err != nil {
				return err
			}
			data, err := readInput(path, info.Size(), cfg.MaxImageBytes())
			if err != nil {
				return err
			}

			opts = opts.WithDefaults(cfg.Images.DefaultQuality, cfg.Images.DefaultFormat, cfg.Images.MaxDimension)
			opts.MaxInputBytes = cfg.MaxImageBytes()
			result, err := imaging.Compress(cmd.Context(), imaging.Input{Name: filepath.Base(path), Data: data}, opts)
			if err != nil {
				return err
			}

			target, err := resolveOutputPath(output, path, result.Name, "-compressed")
			if err != nil {
				return err
			}
			if err := fileutil.WriteFileAtomic(target, result.Data, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			if jsonOutput {
				return writeJSON(cmd, api.ImageResult{
					Name:           target,
					Format:         result.Format,
					MIMEType:       result.MIMEType,
					Width:          result.Width,
					Height:         result.Height,
					OriginalSize:   result.OriginalSize,
					CompressedSize: result.CompressedSize,
					Ratio:          result.Ratio(),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]column{
				{Header: "File"},
				{Header: "Dimensions"},
				{Header: "Size", Numeric: true},
			}, [][]string{
				{path, fmt.Sprintf("%dx%d %s", result.OriginalWidth, result.OriginalHeight, result.SourceFormat), formatBytes(result.OriginalSize)},
				{target, fmt.Sprintf("%dx%d %s", result.Width, result.Height, result.Format), formatBytes(result.CompressedSize)},
			}))
			fmt.Fprintf(out, "Saved %.1f%% in %s\n", result.Savings()*100, formatDuration(result.Elapsed))
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Quality, "quality", "q", 0, "Quality 1-100 (defaults to images.default_quality)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: jpeg, png, or webp (defaults to images.default_format)")
	cmd.Flags().IntVar(&opts.MaxDimension, "max-dimension", 0, "Cap the longest side in pixels (defaults to images.max_dimension)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file or directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
