package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/jamscribe/internal/service"
)

var (
	recordDuration   time.Duration
	recordTranscribe bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new session",
	Long: `Record audio from the configured capture device until Ctrl+C (or until
--duration elapses). The recording is stored in the catalog and can be
transcribed afterwards, or right away with --transcribe.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		id, err := svc.StartRecording(ctx)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		_, session := svc.GetRecordingStatus()
		slog.Info("Recording started - Press Ctrl+C to stop", "recording_id", id, "file", session.OutputFile)

		waitForStop(ctx, recordDuration)
		slog.Info("Stopping recording...")

		rec, err := svc.StopRecording(context.WithoutCancel(ctx))
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		duration := 0.0
		if rec.Duration != nil {
			duration = *rec.Duration
		}
		fmt.Printf("Recorded %s (%.1fs, %s)\n", rec.ID, duration, service.FormatBytes(rec.FileSize))
		fmt.Printf("File: %s\n", rec.FilePath)

		if !recordTranscribe {
			return nil
		}
		return runTranscription(ctx, svc, rec.ID, service.TranscribeRequest{})
	},
}

// waitForStop blocks until an interrupt, ctx is done or d elapses (d > 0).
func waitForStop(ctx context.Context, d time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-sigChan:
	case <-timeout:
	case <-ctx.Done():
	}
}

func init() {
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop automatically after this long (e.g. 30m)")
	recordCmd.Flags().BoolVarP(&recordTranscribe, "transcribe", "t", false, "transcribe the recording once it is stopped")
}
