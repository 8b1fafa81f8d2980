package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/model"
	"github.com/ss2dbx/server/internal/migration/workflow"
)

const wordWrap = 100

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Print a new session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), svc.NewSessionID())
			return nil
		},
	})
	return cmd
}

func newStage1Cmd(a *app) *cobra.Command {
	var (
		input       string
		prompts     string
		promptsFile string
		docs        string
		raw         bool
	)
	cmd := &cobra.Command{
		Use:   "stage1",
		Short: "Parse & visualize a StreamSets pipeline export",
		Long: `Sends the StreamSets JSON to the model for a pipeline summary and a
prefill of the Stage 2 fields. Without --input the document already stored in
the session is reused, so a rerun only needs the flags that change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req workflow.Stage1Request
			if input != "" {
				doc, err := readFile(input)
				if err != nil {
					return err
				}
				req.Document = &doc
			}
			switch {
			case promptsFile != "":
				text, err := readFile(promptsFile)
				if err != nil {
					return err
				}
				req.AdditionalPrompts = &text
			case cmd.Flags().Changed("prompts"):
				req.AdditionalPrompts = &prompts
			}
			if docs != "" {
				text, err := readFile(docs)
				if err != nil {
					return err
				}
				req.Attachment = &workflow.Attachment{Name: filepath.Base(docs), Text: text}
			}

			if err := a.requireDocument(cmd.Context(), req.Document, workflow.MsgStage1NoDocument); err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			res, err := svc.RunStage1(cmd.Context(), a.sessionID, req)
			if err != nil {
				return err
			}

			printResult(cmd, res, raw)
			if !res.Fields.IsEmpty() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Stage 2 fields prefilled; review with `ss2dbx fields show`.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "StreamSets pipeline JSON file")
	cmd.Flags().StringVar(&prompts, "prompts", "", "Additional instructions for every stage")
	cmd.Flags().StringVar(&promptsFile, "prompts-file", "", "Read additional instructions from a file")
	cmd.Flags().StringVar(&docs, "docs", "", "Reference documentation to attach")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without terminal rendering")
	cmd.MarkFlagsMutuallyExclusive("prompts", "prompts-file")
	return cmd
}

func newFieldsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Show or edit the Stage 2 fields",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the Stage 2 fields as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			state, err := svc.Session(cmd.Context(), a.sessionID)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), state.Stage2Form)
		},
	}

	var (
		file string
		sets []string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Update Stage 2 fields from a YAML file and/or key=value pairs",
		Example: `  ss2dbx fields show > fields.yaml && $EDITOR fields.yaml && ss2dbx fields set --file fields.yaml
  ss2dbx fields set --set business_keys=order_id --set audit_columns=load_ts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildPatch(file, sets)
			if err != nil {
				return err
			}
			if len(patch) == 0 {
				return errx.Validation("nothing to set; pass --file or --set")
			}

			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			form, err := svc.UpdateFields(cmd.Context(), a.sessionID, patch)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), form)
		},
	}
	addPatchFlags(set, &file, &sets)

	cmd.AddCommand(show, set)
	return cmd
}

func newStage2Cmd(a *app) *cobra.Command {
	var (
		file string
		sets []string
		raw  bool
	)
	cmd := &cobra.Command{
		Use:   "stage2",
		Short: "Align the pipeline with Databricks using the Stage 2 fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildPatch(file, sets)
			if err != nil {
				return err
			}

			if err := a.requireDocument(cmd.Context(), nil, workflow.MsgStage2NoDocument); err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			res, err := svc.RunStage2(cmd.Context(), a.sessionID, workflow.Stage2Request{Patch: patch})
			if err != nil {
				return err
			}
			printResult(cmd, res, raw)
			return nil
		},
	}
	addPatchFlags(cmd, &file, &sets)
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without terminal rendering")
	return cmd
}

func newStage3Cmd(a *app) *cobra.Command {
	var notebookContext string
	cmd := &cobra.Command{
		Use:   "stage3",
		Short: "Generate the Databricks notebook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDocument(cmd.Context(), nil, workflow.MsgStage3NoDocument); err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			res, err := svc.RunStage3(cmd.Context(), a.sessionID, workflow.Stage3Request{NotebookContext: notebookContext})
			if err != nil {
				return err
			}
			// notebooks are code; never render them as markdown
			printResult(cmd, res, true)
			return nil
		},
	}
	cmd.Flags().StringVar(&notebookContext, "context", "", "Notebook context such as cluster, catalog or naming rules")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:       "show [stage1|stage2|stage3|fields]",
		Short:     "Print a stored stage output (defaults to the last stage run)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"stage1", "stage2", "stage3", "fields"},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			state, err := svc.Session(cmd.Context(), a.sessionID)
			if err != nil {
				return err
			}

			what := state.LastStage.Short()
			if len(args) == 1 {
				what = args[0]
			}
			if what == "fields" {
				return writeYAML(cmd.OutOrStdout(), state.Stage2Form)
			}

			stage, err := model.ParseStage(what)
			if err != nil {
				if state.LastStage == model.StageIdle && len(args) == 0 {
					return errx.NotFound("no stage has been run in this session yet")
				}
				return errx.Validation(err.Error())
			}
			text := storedOutput(state, stage)
			if strings.TrimSpace(text) == "" {
				return errx.NotFound(fmt.Sprintf("no %s output stored for session %q", stage.Short(), a.sessionID))
			}
			renderMarkdown(cmd.OutOrStdout(), text, raw || stage == model.Stage3)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without terminal rendering")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write " + workflow.DocumentationFilename + " and " + workflow.NotebookFilename,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			state, err := svc.Session(cmd.Context(), a.sessionID)
			if err != nil {
				return err
			}
			paths, err := workflow.Export(dir, state)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Output directory")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the stage runs of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			runs, err := svc.Runs(cmd.Context(), a.sessionID)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No runs recorded for session %q.\n", a.sessionID)
				return nil
			}
			return writeRuns(cmd.OutOrStdout(), runs)
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget everything stored for the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := svc.Reset(cmd.Context(), a.sessionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Session %q reset.\n", a.sessionID)
			return nil
		},
	}
}

func addPatchFlags(cmd *cobra.Command, file *string, sets *[]string) {
	cmd.Flags().StringVarP(file, "file", "f", "", "YAML file of Stage 2 fields (as printed by `fields show`)")
	cmd.Flags().StringArrayVar(sets, "set", nil, "Set one field, key=value (repeatable)")
}

// buildPatch merges the YAML file first, then the --set pairs on top.
func buildPatch(file string, sets []string) (model.FieldPatch, error) {
	patch := model.FieldPatch{}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		var values map[string]string
		if err := yaml.Unmarshal(b, &values); err != nil {
			return nil, errx.Validation(fmt.Sprintf("%s is not a YAML map of field values: %v", file, err))
		}
		for k, v := range values {
			patch[k] = v
		}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, errx.Validation(fmt.Sprintf("--set %q must look like key=value", kv))
		}
		patch[strings.TrimSpace(k)] = v
	}
	if err := patch.Validate(); err != nil {
		return nil, errx.Validation(err.Error())
	}
	return patch, nil
}

// requireDocument reports a missing StreamSets document before the chat model
// is built, so a session without one is not blamed on the completion config.
func (a *app) requireDocument(ctx context.Context, provided *string, message string) error {
	if provided != nil && strings.TrimSpace(*provided) != "" {
		return nil
	}
	svc, err := a.service(ctx, false)
	if err != nil {
		return err
	}
	state, err := svc.Session(ctx, a.sessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(state.Document) == "" {
		return errx.Validation(message)
	}
	return nil
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func storedOutput(state *model.SessionState, stage model.Stage) string {
	switch stage {
	case model.Stage1:
		return state.Stage1Visible
	case model.Stage2:
		return state.Stage2Visible
	case model.Stage3:
		return state.Stage3Notebook
	default:
		return ""
	}
}

// printResult writes the stage output to stdout and everything else to stderr.
func printResult(cmd *cobra.Command, res *workflow.StageResult, raw bool) {
	renderMarkdown(cmd.OutOrStdout(), res.Visible, raw)

	errOut := cmd.ErrOrStderr()
	for _, n := range res.Notices {
		fmt.Fprintln(errOut, "Note:", n)
	}
	fmt.Fprintf(errOut, "%s done (model %s, %s in / %s out tokens, $%.4f)\n",
		res.Stage, res.Model,
		humanize.Comma(int64(res.PromptTokens)), humanize.Comma(int64(res.CompletionTokens)),
		res.CostUSD)
}

// renderMarkdown prints md through glamour, or as is when raw is set or
// rendering fails.
func renderMarkdown(w io.Writer, md string, raw bool) {
	if !raw {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrap),
		)
		if err == nil {
			if out, err := r.Render(md); err == nil {
				fmt.Fprint(w, out)
				return
			}
		}
	}
	fmt.Fprintln(w, strings.TrimRight(md, "\n"))
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func writeRuns(w io.Writer, runs []model.StageRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTAGE\tSTATUS\tMODEL\tTOKENS\tCOST\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t$%.4f\t%s\t%s\n",
			humanize.Time(r.StartedAt),
			r.Stage.Short(),
			r.Status,
			r.Model,
			humanize.Comma(int64(r.TotalTokens)),
			r.CostUSD,
			r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Error,
		)
	}
	return tw.Flush()
}
