package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/botexport"
	"github.com/loykin/botexport/internal/output"
)

var actionCmd = &cobra.Command{
	Use:   "action <name> [key=value ...]",
	Short: "Run one action such as create-role or send-message",
	Long: `Run one action against the API. Parameters are key=value pairs, given as
arguments or with --param. Keys accept dashes or underscores; structured values
such as options or embeds take JSON. Run "botexport functions" for the list.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		extra, _ := cmd.Flags().GetStringArray("param")
		params, err := parseParams(append(args[1:], extra...))
		if err != nil {
			return err
		}
		return runAction(ctx, viper.GetViper(), args[0], params, cmd.OutOrStdout())
	},
}

func init() {
	f := actionCmd.Flags()
	f.StringArrayP("param", "p", nil, "action parameter as key=value (repeatable)")
	f.Bool("stdout", false, "print the response instead of saving it")
	f.String("output-dir", "", "directory for the saved response")
	f.Bool("pretty", false, "indent the saved response")

	v := viper.GetViper()
	_ = v.BindPFlag("action_stdout", f.Lookup("stdout"))
	_ = v.BindPFlag("action_output_dir", f.Lookup("output-dir"))
	_ = v.BindPFlag("action_pretty", f.Lookup("pretty"))
}

// parseParams turns key=value pairs into a params map; later keys win.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		k = strings.TrimLeft(strings.TrimSpace(k), "-")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", p)
		}
		out[k] = val
	}
	return out, nil
}

func runAction(ctx context.Context, v *viper.Viper, name string, params map[string]any, stdout io.Writer) error {
	if _, ok := botexport.LookupAction(name); !ok {
		return fmt.Errorf("%w: %s", botexport.ErrUnknownAction, name)
	}
	doc, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := doc.SetupLogging()
	if err != nil {
		return err
	}
	cred, err := doc.Credential(ctx)
	if err != nil {
		return err
	}
	opts, err := doc.ExporterOptions(cred, logger, nil)
	if err != nil {
		return err
	}
	exp, err := botexport.New(opts)
	if err != nil {
		return err
	}
	defer exp.Close()

	res, err := exp.Action(ctx, name, params)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s rejected with status %d: %s", res.Action, res.Status, res.Message)
	}

	outOpts := output.Options{
		Dir:    v.GetString("action_output_dir"),
		Pretty: v.GetBool("action_pretty"),
		Stdout: v.GetBool("action_stdout"),
	}
	w := output.New(outOpts)
	w.Stdout = stdout
	if outOpts.Stdout {
		_, err := w.WriteResult("", res.Value)
		return err
	}
	if res.File == "" {
		return nil
	}
	path, err := w.WriteResult(res.File, res.Value)
	if err != nil {
		return err
	}
	logger.Info("response saved", "path", path)
	return nil
}
