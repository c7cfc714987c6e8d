package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/jamscribe/internal/service"
)

var (
	transcribeLanguage string
	transcribeModel    string
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <recording-id>",
	Short: "Transcribe a stored recording",
	Long: `Run the speech-recognition engine on a stored recording and save the
result in the catalog. A previous transcription of the same recording is
replaced. Ctrl+C stops the engine and records the transcription as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		return runTranscription(ctx, svc, args[0], service.TranscribeRequest{
			Language: transcribeLanguage,
			Model:    transcribeModel,
		})
	},
}

// runTranscription blocks until the transcription finishes or the user
// interrupts it, then prints the text.
func runTranscription(ctx context.Context, svc service.Service, id string, req service.TranscribeRequest) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Transcribing recording", "recording_id", id)
	tr, err := svc.TranscribeRecording(ctx, id, req)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}

	if tr.ProcessingTimeMs != nil {
		slog.Debug("Transcription stored", "transcription_id", tr.ID, "elapsed_ms", *tr.ProcessingTimeMs)
	}
	fmt.Println(tr.Text)
	return nil
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeLanguage, "language", "l", "", "language code (default from config)")
	transcribeCmd.Flags().StringVarP(&transcribeModel, "model", "m", "", "model: tiny, base, small, medium, large (default from config)")
}
