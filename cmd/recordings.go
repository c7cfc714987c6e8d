package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/service"
	"github.com/audiolibrelab/jamscribe/internal/store"
)

var (
	outputFormat string

	searchFrom, searchTo     string
	searchMin, searchMax     float64
	searchSort, searchOrder  string
	searchLimit, searchSkip  int
	exportFormat, exportFile string
	orphansRemove            bool
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"rec", "ls"},
	Short:   "List and manage stored recordings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordingsListCmd.RunE(cmd, args)
	},
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		recs, err := svc.GetRecordings(ctx)
		if err != nil {
			return err
		}
		if outputFormat != "" {
			return printStructured(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No recordings yet")
			return nil
		}
		return printRecordings(recs)
	},
}

var recordingsSearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search recordings by filename, transcription text, date or duration",
	Example: `  jamscribe recordings search chorus
  jamscribe recordings search --from 2025-03-01 --min-duration 60 --sort-by duration --order asc`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := store.RecordingQuery{
			SortBy:    searchSort,
			SortOrder: searchOrder,
			Limit:     searchLimit,
			Offset:    searchSkip,
		}
		if len(args) == 1 {
			q.Text = args[0]
		}
		var err error
		if q.From, err = service.ParseSearchTime(searchFrom); err != nil {
			return err
		}
		if q.To, err = service.ParseSearchTime(searchTo); err != nil {
			return err
		}
		if cmd.Flags().Changed("min-duration") {
			q.MinDuration = &searchMin
		}
		if cmd.Flags().Changed("max-duration") {
			q.MaxDuration = &searchMax
		}

		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		recs, err := svc.SearchRecordings(ctx, q)
		if err != nil {
			return err
		}
		if outputFormat != "" {
			return printStructured(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No matching recordings")
			return nil
		}
		return printRecordings(recs)
	},
}

var recordingsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.GetRecordingStats(ctx)
		if err != nil {
			return err
		}
		if outputFormat != "" {
			return printStructured(stats)
		}

		fmt.Printf("Recordings:     %d\n", stats.TotalRecordings)
		for _, status := range []models.RecordingStatus{
			models.RecordingStatusCompleted, models.RecordingStatusProcessing,
			models.RecordingStatusRecording, models.RecordingStatusFailed,
		} {
			if n := stats.ByStatus[status]; n > 0 {
				fmt.Printf("  %-12s  %d\n", status, n)
			}
		}
		fmt.Printf("Transcribed:    %d\n", stats.CompletedTranscriptions)
		fmt.Printf("Total duration: %s\n", (time.Duration(stats.TotalDuration * float64(time.Second))).Round(time.Second))
		fmt.Printf("Average:        %.1fs\n", stats.AverageDuration)
		fmt.Printf("Total size:     %s\n", service.FormatBytes(stats.TotalSize))
		if stats.Oldest != nil && stats.Newest != nil {
			fmt.Printf("Range:          %s .. %s\n",
				stats.Oldest.Local().Format("2006-01-02 15:04"), stats.Newest.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var recordingsExportCmd = &cobra.Command{
	Use:   "export <recording-id>",
	Short: "Export a recording and its transcription as json or text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		data, err := svc.ExportRecording(ctx, args[0], exportFormat)
		if err != nil {
			return err
		}
		if exportFile == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(exportFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Printf("Exported %s to %s\n", args[0], exportFile)
		return nil
	},
}

var recordingsOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List files in the recordings directory that no recording references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		files, err := svc.CleanupOrphanedFiles(ctx, orphansRemove)
		if err != nil {
			return err
		}
		if outputFormat != "" {
			return printStructured(files)
		}
		if len(files) == 0 {
			fmt.Println("No orphaned files")
			return nil
		}
		for _, f := range files {
			fmt.Println(f)
		}
		if orphansRemove {
			fmt.Printf("Removed %d file(s)\n", len(files))
		}
		return nil
	},
}

var recordingsGetCmd = &cobra.Command{
	Use:   "get <recording-id>",
	Short: "Show one recording and its transcription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		rec, err := svc.GetRecording(ctx, args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("recording %s not found", args[0])
		}

		view := recordingView{Recording: rec}
		if tr, err := svc.GetTranscription(ctx, rec.ID); err == nil {
			view.Transcription = tr
		}
		if outputFormat == "" {
			outputFormat = "yaml"
		}
		return printStructured(view)
	},
}

var recordingsDeleteCmd = &cobra.Command{
	Use:     "delete <recording-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a recording, its transcription and its audio file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		existed, err := svc.DeleteRecording(ctx, args[0])
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("recording %s not found", args[0])
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var recordingsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of stored recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.GetRecordingsCount(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func printRecordings(recs []models.Recording) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tDURATION\tSIZE\tSTATUS")
	for _, rec := range recs {
		duration := "-"
		if rec.Duration != nil {
			duration = fmt.Sprintf("%.1fs", *rec.Duration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			duration, service.FormatBytes(rec.FileSize), rec.Status)
	}
	return w.Flush()
}

type recordingView struct {
	Recording     *models.Recording     `json:"recording" yaml:"recording"`
	Transcription *models.Transcription `json:"transcription,omitempty" yaml:"transcription,omitempty"`
}

// openService builds the service from the loaded configuration.
func openService(ctx context.Context) (service.Service, error) {
	svc, err := service.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}
	return svc, nil
}

func printStructured(v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q (use yaml or json)", outputFormat)
	}
}

func init() {
	recordingsCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: yaml or json")

	recordingsCmd.AddCommand(recordingsListCmd)
	recordingsCmd.AddCommand(recordingsGetCmd)
	recordingsCmd.AddCommand(recordingsDeleteCmd)
	recordingsCmd.AddCommand(recordingsCountCmd)

	recordingsSearchCmd.Flags().StringVar(&searchFrom, "from", "", "created at or after (RFC 3339 or YYYY-MM-DD)")
	recordingsSearchCmd.Flags().StringVar(&searchTo, "to", "", "created at or before (RFC 3339 or YYYY-MM-DD)")
	recordingsSearchCmd.Flags().Float64Var(&searchMin, "min-duration", 0, "minimum duration in seconds")
	recordingsSearchCmd.Flags().Float64Var(&searchMax, "max-duration", 0, "maximum duration in seconds")
	recordingsSearchCmd.Flags().StringVar(&searchSort, "sort-by", "created_at", "created_at, updated_at, filename, duration or file_size")
	recordingsSearchCmd.Flags().StringVar(&searchOrder, "order", "desc", "asc or desc")
	recordingsSearchCmd.Flags().IntVar(&searchLimit, "limit", store.DefaultSearchLimit, "maximum number of results")
	recordingsSearchCmd.Flags().IntVar(&searchSkip, "offset", 0, "number of results to skip")
	recordingsCmd.AddCommand(recordingsSearchCmd)

	recordingsCmd.AddCommand(recordingsStatsCmd)

	recordingsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "export format: json or text")
	recordingsExportCmd.Flags().StringVarP(&exportFile, "file", "O", "", "write to this file instead of stdout")
	recordingsCmd.AddCommand(recordingsExportCmd)

	recordingsOrphansCmd.Flags().BoolVar(&orphansRemove, "remove", false, "delete the orphaned files")
	recordingsCmd.AddCommand(recordingsOrphansCmd)
}
