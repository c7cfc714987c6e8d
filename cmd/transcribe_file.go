package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/output"
	"github.com/audiolibrelab/jamscribe/internal/transcribe"
)

// fileOptions are the flags of transcribe-file.
type fileOptions struct {
	Language        string  `validate:"omitempty,max=10"`
	Model           string  `validate:"omitempty,oneof=tiny base small medium large"`
	Format          string  `validate:"oneof=text json srt"`
	Temperature     float64 `validate:"gte=0,lte=1"`
	BestOf          int     `validate:"gte=1"`
	BeamSize        int     `validate:"gte=1"`
	NoPreprocessing bool
}

var fileOpts fileOptions

var transcribeFileCmd = &cobra.Command{
	Use:   "transcribe-file <audio-file>",
	Short: "Transcribe an audio file directly, without the catalog",
	Long: `Transcribe any audio file with the local engine and print the result.

Accepted extensions: .wav .mp3 .m4a .flac .ogg .aac .mp4 .mov .avi
(others are attempted with a warning). Files over 500 MiB are rejected.`,
	Example: `  jamscribe transcribe-file meeting.m4a
  jamscribe transcribe-file -l en -m base -f srt talk.wav > talk.srt
  jamscribe transcribe-file -t 0.0 -s 5 --no-preprocessing clean.wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validator.New().Struct(fileOpts); err != nil {
			return errs.Validation("%v", err)
		}
		format, err := output.ParseFormat(fileOpts.Format)
		if err != nil {
			return err
		}

		language := fileOpts.Language
		if language == "" {
			language = cfg.Engine.Language
		}
		model := fileOpts.Model
		if model == "" {
			model = cfg.Engine.Model
		}

		// only flags the user set override the language defaults
		overrides := map[string]any{}
		if cmd.Flags().Changed("temperature") {
			overrides["temperature"] = fileOpts.Temperature
		}
		if cmd.Flags().Changed("best-of") {
			overrides["best_of"] = fileOpts.BestOf
		}
		if cmd.Flags().Changed("beam-size") {
			overrides["beam_size"] = fileOpts.BeamSize
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Transcribing file", "file", args[0], "language", language, "model", model)
		outcome, err := transcribe.FromConfig(cfg).Run(ctx, args[0], transcribe.Options{
			Language:          language,
			Model:             model,
			Overrides:         overrides,
			SkipPreprocessing: fileOpts.NoPreprocessing,
		})
		if err != nil {
			var engineErr *errs.EngineError
			if verboseLevel >= 2 && errors.As(err, &engineErr) && engineErr.Diagnostic != "" {
				fmt.Fprintln(os.Stderr, engineErr.Diagnostic)
			}
			return err
		}

		if verboseLevel >= 2 && outcome.Diagnostic != "" {
			fmt.Fprintln(os.Stderr, strings.TrimSpace(outcome.Diagnostic))
		}
		slog.Debug("Transcription finished",
			"elapsed_ms", outcome.ProcessingTimeMs,
			"segments", len(outcome.Document.Segments),
			"preprocessed", outcome.Document.Preprocessing)

		return output.Render(os.Stdout, format, outcome.Document)
	},
}

func init() {
	f := transcribeFileCmd.Flags()
	f.StringVarP(&fileOpts.Language, "language", "l", "", "language code (default from config)")
	f.StringVarP(&fileOpts.Model, "model", "m", "", "model: tiny, base, small, medium, large (default from config)")
	f.StringVarP(&fileOpts.Format, "format", "f", "text", "output format: text, json, srt")
	f.Float64VarP(&fileOpts.Temperature, "temperature", "t", 0.2, "sampling temperature")
	f.IntVarP(&fileOpts.BestOf, "best-of", "b", 1, "candidates when sampling")
	f.IntVarP(&fileOpts.BeamSize, "beam-size", "s", 1, "beam size for beam search")
	f.BoolVar(&fileOpts.NoPreprocessing, "no-preprocessing", false, "send the file to the engine unchanged")
}
