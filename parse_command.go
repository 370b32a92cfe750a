package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nijaru/scriptparser/models"
	"github.com/nijaru/scriptparser/validation"
	"github.com/nijaru/scriptparser/workflow"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newParseCommand(ctx *commandContext) *cobra.Command {
	var (
		urlFlag   string
		fileFlag  string
		modeFlag  string
		tableFlag bool
	)

	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Process one link or local file and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(urlFlag) == "" && fileFlag == "" {
				return errors.New("one of --url or --file is required")
			}
			mode, err := validation.ParseMode(modeFlag)
			if err != nil {
				return errors.Wrap(err, "--mode")
			}

			cfg, log, err := ctx.ensure(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			in := workflow.Input{URL: urlFlag, Mode: mode}
			if fileFlag != "" {
				f, err := os.Open(fileFlag)
				if err != nil {
					return errors.Wrap(err, "open input file")
				}
				defer f.Close()

				info, err := f.Stat()
				if err != nil {
					return errors.Wrap(err, "stat input file")
				}
				in.File = &workflow.FileUpload{
					Name:   filepath.Base(fileFlag),
					Size:   info.Size(),
					Reader: f,
				}
			}

			result, _ := workflow.NewFromConfig(cfg, log).Process(cmd.Context(), in)

			out := cmd.OutOrStdout()
			if tableFlag {
				fmt.Fprintln(out, renderResult(result))
			} else if err := writeJSON(out, result); err != nil {
				return err
			}

			if !result.Success {
				return fmt.Errorf("parse failed with code %d: %s", result.Code, result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "", "Share text or link to a supported video")
	cmd.Flags().StringVar(&fileFlag, "file", "", "Local audio or video file to upload")
	cmd.Flags().StringVar(&modeFlag, "mode", string(models.ModeGeneral), "Analysis mode: general or tech")
	cmd.Flags().BoolVar(&tableFlag, "table", false, "Render the result as a table instead of JSON")

	return cmd
}

func writeJSON(w io.Writer, result models.WorkflowResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return errors.Wrap(encoder.Encode(result), "encode result")
}

// renderResult lays the envelope out as a two-column table. Long transcripts
// wrap inside their cell.
func renderResult(result models.WorkflowResult) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Field", "Value"})

	tw.AppendRow(table.Row{"code", result.Code})
	tw.AppendRow(table.Row{"success", result.Success})
	tw.AppendRow(table.Row{"message", result.Message})
	tw.AppendRow(table.Row{"processing_time", fmt.Sprintf("%.3fs", result.ProcessingTime)})

	if data := result.Data; data != nil {
		tw.AppendSeparator()
		switch src := data.SourceInfo; {
		case src.Video != nil:
			tw.AppendRow(table.Row{"platform", src.Video.Platform})
			tw.AppendRow(table.Row{"video_id", src.Video.VideoID})
			tw.AppendRow(table.Row{"title", src.Video.Title})
		case src.File != nil:
			tw.AppendRow(table.Row{"file", src.File.OriginalName})
			tw.AppendRow(table.Row{"size_bytes", src.File.SizeBytes})
		}
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"hook", data.Analysis.Hook})
		tw.AppendRow(table.Row{"core", data.Analysis.Core})
		tw.AppendRow(table.Row{"cta", data.Analysis.CTA})
		if len(data.Analysis.Highlights) > 0 {
			tw.AppendRow(table.Row{"highlights", strings.Join(data.Analysis.Highlights, "\n")})
		}
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"transcript", data.Transcript})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft, WidthMax: 80},
	})

	return tw.Render()
}
