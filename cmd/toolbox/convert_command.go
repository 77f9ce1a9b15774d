package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolbox/internal/convert"
	"toolbox/internal/engine"
	"toolbox/internal/fileutil"
	"toolbox/internal/logging"
)

type convertOptions struct {
	format     string
	quality    int
	audioCodec string
	videoCodec string
	bitrate    string
	extraArgs  []string
	output     string
	timeout    time.Duration
	jsonOutput bool
}

type convertResult struct {
	JobID      string `json:"jobId"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	Format     string `json:"format"`
	MIMEType   string `json:"mimeType"`
	InputSize  int64  `json:"inputSize"`
	OutputSize int64  `json:"outputSize"`
	DurationMS int64  `json:"durationMs"`
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a media file with the local engine",
		Long: "Runs one conversion job in-process and writes the result next to the input\n" +
			"(or to --output). Supported formats: " + strings.Join(convert.Formats(), ", ") + ".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, ctx, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Target format (defaults to conversion.default_format)")
	cmd.Flags().IntVarP(&opts.quality, "quality", "q", 0, "Codec quality setting; range depends on the format")
	cmd.Flags().StringVar(&opts.audioCodec, "audio-codec", "", "Override the audio codec")
	cmd.Flags().StringVar(&opts.videoCodec, "video-codec", "", "Override the video codec")
	cmd.Flags().StringVar(&opts.bitrate, "bitrate", "", "Target bitrate such as 192k")
	cmd.Flags().StringArrayVar(&opts.extraArgs, "extra-arg", nil, "Additional engine argument (repeatable)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file or directory")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Stop waiting after this long (0 waits indefinitely)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON instead of progress")
	return cmd
}

func runConvert(cmd *cobra.Command, ctx *commandContext, arg string, opts convertOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	path, info, err := resolveInputFile(arg)
	if err != nil {
		return err
	}
	data, err := readInput(path, info.Size(), cfg.MaxInputBytes())
	if err != nil {
		return err
	}

	spec := convert.CommandSpec{
		Format:     opts.format,
		AudioCodec: opts.audioCodec,
		VideoCodec: opts.videoCodec,
		Bitrate:    opts.bitrate,
		ExtraArgs:  opts.extraArgs,
	}
	if cmd.Flags().Changed("quality") {
		spec.Quality = convert.Quality(opts.quality)
	}
	spec = spec.WithDefaults(cfg.Conversion.DefaultFormat, cfg.Conversion.DefaultQuality)

	logger := ctx.logger(cmd)
	eng := newEngine(cfg, logger)
	if closer, ok := eng.(io.Closer); ok {
		defer closer.Close()
	}
	loader := engine.NewLoader(eng,
		engine.WithLoadTimeout(cfg.LoadTimeout()),
		engine.WithLogger(logger),
	)

	runnerOpts := []convert.RunnerOption{
		convert.WithMaxInputBytes(cfg.MaxInputBytes()),
		convert.WithRunnerLogger(logger),
	}
	if store, err := ctx.openHistory(cmd); err != nil {
		logging.WarnWithContext(logger, "job history unavailable; this run will not be recorded", "history_unavailable", logging.Error(err))
	} else {
		defer store.Close()
		runnerOpts = append(runnerOpts, convert.WithObserver(store))
	}
	runner := convert.NewRunner(loader, runnerOpts...)

	waitCtx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, opts.timeout)
		defer cancel()
	}

	job, err := runner.StartJob(waitCtx, convert.Input{Name: filepath.Base(path), Data: data, Size: info.Size()}, spec)
	if err != nil {
		return describeJobError(err)
	}

	var reporter progressReporter
	if !opts.jsonOutput {
		reporter = newProgressReporter(cmd.ErrOrStderr(), filepath.Base(path)+" -> "+spec.Format, isTerminal(cmd.ErrOrStderr()))
		unsubscribe, err := job.Progress().Subscribe(reporter.update)
		if err == nil {
			defer unsubscribe()
		}
	}

	artifact, err := job.Wait(waitCtx)
	if reporter != nil {
		reporter.finish(err)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("job %s did not finish within %s", shortID(job.ID()), opts.timeout)
		}
		return describeJobError(err)
	}
	runner.Wait()

	target, err := resolveOutputPath(opts.output, path, artifact.Name, "-converted")
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(target, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	snap := job.Snapshot()
	if opts.jsonOutput {
		return writeJSON(cmd, convertResult{
			JobID:      job.ID(),
			Input:      path,
			Output:     target,
			Format:     snap.Spec.Format,
			MIMEType:   artifact.MIMEType,
			InputSize:  info.Size(),
			OutputSize: artifact.Size(),
			DurationMS: snap.Duration().Milliseconds(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %s) in %s\n", target, formatBytes(artifact.Size()), artifact.MIMEType, formatDuration(snap.Duration()))
	return nil
}

// describeJobError prefixes job failures with their kind, keeping the error
// chain for errors.Is.
func describeJobError(err error) error {
	var jobErr *convert.JobError
	if !errors.As(err, &jobErr) {
		return err
	}
	if errors.Is(err, engine.ErrWorkspaceBusy) {
		return fmt.Errorf("conversion failed (%s): %w (another toolbox convert is running; wait for it to finish)", jobErr.Kind, err)
	}
	return fmt.Errorf("conversion failed (%s): %w", jobErr.Kind, err)
}
