package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/botexport"
	"github.com/loykin/botexport/internal/output"
	"github.com/loykin/botexport/internal/store"
	"github.com/loykin/botexport/internal/telemetry"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run the export steps and write the document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runExport(ctx, viper.GetViper(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringSliceP("only", "f", nil, "run only these steps, topics or groups (plus what they depend on)")
	f.StringSlice("skip", nil, "skip these steps, topics or groups")
	f.StringP("output", "o", "", "output file (default discord_bot_export_<bot>_<time>.json)")
	f.String("output-dir", "", "directory for the default output file")
	f.String("format", "", "output format: json or yaml")
	f.Bool("pretty", false, "indent JSON output")
	f.Bool("stdout", false, "write the document to stdout instead of a file")
	f.String("pacing", "", "pause between sub-requests, e.g. 500ms")
	f.Bool("save-document", false, "also store the document in the history store")
	f.String("metrics-textfile", "", "write prometheus metrics to this file after the run")
	f.String("otlp-endpoint", "", "OTLP/gRPC endpoint for traces")

	v := viper.GetViper()
	for key, name := range map[string]string{
		"only":             "only",
		"skip":             "skip",
		"output":           "output",
		"output_dir":       "output-dir",
		"format":           "format",
		"pretty":           "pretty",
		"stdout":           "stdout",
		"pacing":           "pacing",
		"save_document":    "save-document",
		"metrics_textfile": "metrics-textfile",
		"otlp_endpoint":    "otlp-endpoint",
	} {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
}

func runExport(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer) error {
	doc, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := doc.SetupLogging()
	if err != nil {
		return err
	}
	outOpts, err := doc.OutputOptions()
	if err != nil {
		return err
	}
	storeCfg, err := doc.Store.ToStoreConfig(logger)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.SetupProvider(ctx, doc.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	cred, err := doc.Credential(ctx)
	if err != nil {
		return err
	}
	m := botexport.NewMetrics()
	opts, err := doc.ExporterOptions(cred, logger, m)
	if err != nil {
		return err
	}
	exp, err := botexport.New(opts)
	if err != nil {
		return err
	}
	defer exp.Close()

	runID := uuid.NewString()
	report, runErr := exp.Export(ctx, runID)
	if runErr != nil && !botexport.Aborted(runErr) {
		return runErr
	}

	run := store.Run{
		RunID:      runID,
		BotID:      report.BotID,
		Mode:       report.Mode,
		Status:     store.StatusCompleted,
		Topics:     report.Document.Len(),
		StartedAt:  report.Started,
		FinishedAt: report.Finished,
	}
	run.StepsOK, run.StepsSkipped, run.StepsFailed = report.Counts()

	var body []byte
	if runErr != nil {
		// Nothing from an aborted run is written; only the history row.
		run.Status = store.StatusAborted
		run.Error = runErr.Error()
	} else {
		w := output.New(outOpts)
		w.Stdout = stdout
		if run.Output, err = w.WriteDocument(report.Document, report.BotID, report.Started); err != nil {
			return err
		}
		if run.Output != "" {
			logger.Info("export written", "path", run.Output)
		}
		if doc.Store.SaveDocument {
			var buf bytes.Buffer
			if err := report.Document.EncodeJSON(&buf, false); err != nil {
				return err
			}
			body = buf.Bytes()
		}
	}

	if storeCfg != nil {
		if err := recordRun(*storeCfg, run, body); err != nil {
			logger.Warn("run history not recorded", "error", err)
		}
	}
	if path := doc.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			logger.Warn("metrics textfile not written", "path", path, "error", err)
		}
	}
	printReport(stderr, report)
	return runErr
}

// recordRun uses its own context so that an interrupted run is still recorded.
func recordRun(cfg store.Config, run store.Run, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if _, err := st.RecordRun(ctx, run); err != nil {
		return err
	}
	if body != nil {
		return st.SaveDocument(ctx, run.RunID, body)
	}
	return nil
}

func printReport(w io.Writer, r *botexport.Report) {
	s := newStyles(w)
	ok, skipped, failed := r.Counts()
	_, _ = fmt.Fprintln(w, s.title.Render("Export "+r.RunID))
	var rows [][]string
	for _, sr := range r.Steps {
		if sr.Status == "ok" {
			continue
		}
		reason := sr.Reason
		if reason == "" && sr.Err != nil {
			reason = sr.Err.Error()
		}
		rows = append(rows, []string{s.name.Render(sr.Name), s.status(string(sr.Status)), reason})
	}
	if len(rows) > 0 {
		s.table(w, []string{"STEP", "STATUS", "REASON"}, rows)
	}
	summary := fmt.Sprintf("%d ok, %d skipped, %d failed, %d topics in %s",
		ok, skipped, failed, r.Document.Len(), r.Finished.Sub(r.Started).Round(time.Millisecond))
	if r.Aborted {
		reason := "aborted"
		if r.Err != nil && errors.Is(r.Err, context.Canceled) {
			reason = "interrupted"
		}
		summary = s.failure.Render(reason) + ": " + summary
	}
	_, _ = fmt.Fprintln(w, s.muted.Render(summary))
}
