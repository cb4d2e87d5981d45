package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/botexport/internal/store"
)

var (
	runsLimit    int
	runsDocument bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show export run history, or one run's stored document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := ""
		if len(args) == 1 {
			runID = args[0]
		}
		return showRuns(cmd.Context(), viper.GetViper(), runID, cmd.OutOrStdout())
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "show up to N latest runs (0 = all)")
	runsCmd.Flags().BoolVar(&runsDocument, "document", false, "with a run id, print the stored document")
}

func showRuns(ctx context.Context, v *viper.Viper, runID string, w io.Writer) error {
	doc, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := doc.SetupLogging()
	if err != nil {
		return err
	}
	if doc.Store.Disabled {
		_, _ = fmt.Fprintln(w, "Store is disabled - no run history available")
		return nil
	}
	cfg, err := doc.Store.ToStoreConfig(logger)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, *cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if runID != "" {
		if runsDocument {
			body, err := st.LoadDocument(ctx, runID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, string(body))
			return err
		}
		r, err := st.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		printRuns(w, []store.Run{r})
		return nil
	}

	runs, err := st.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No export runs recorded")
		return nil
	}
	printRuns(w, runs)
	return nil
}

func printRuns(w io.Writer, runs []store.Run) {
	s := newStyles(w)
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		steps := fmt.Sprintf("%d/%d/%d", r.StepsOK, r.StepsSkipped, r.StepsFailed)
		detail := r.Output
		if r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{
			s.name.Render(r.RunID),
			r.StartedAt.Local().Format(time.DateTime),
			r.BotID,
			r.Mode,
			s.status(r.Status),
			strconv.Itoa(r.Topics),
			steps,
			detail,
		})
	}
	s.table(w, []string{"RUN", "STARTED", "BOT", "MODE", "STATUS", "TOPICS", "OK/SKIP/FAIL", "OUTPUT"}, rows)
}
