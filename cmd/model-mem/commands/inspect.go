package commands

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docker/model-mem/pkg/hub"
	"github.com/docker/model-mem/pkg/inspector"
	"github.com/docker/model-mem/pkg/safetensors"
)

func newInspectCmd(opts *globalOptions, extra []hub.Option) *cobra.Command {
	var revision, dir string
	var jsonFormat bool
	c := &cobra.Command{
		Use:   "inspect [MODEL_ID]",
		Short: "Show the parameter count and memory footprint of a model",
		Args: func(cmd *cobra.Command, args []string) error {
			if dir != "" {
				return cobra.NoArgs(cmd, args)
			}
			if len(args) != 1 {
				return fmt.Errorf("'model-mem inspect' requires a MODEL_ID argument, or --dir")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			client, err := opts.client(log, revision, extra)
			if err != nil {
				return err
			}
			insp := inspector.New(client, inspector.WithLogger(log))

			var report *inspector.Report
			if dir != "" {
				report, err = insp.InspectDir(cmd.Context(), dir)
			} else {
				report, err = insp.Inspect(cmd.Context(), args[0], revision)
			}
			if err != nil {
				return fmt.Errorf("failed to inspect model: %w", err)
			}

			if jsonFormat {
				data, err := report.JSON()
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Print(statsTable(report))
			return nil
		},
	}
	c.Flags().StringVar(&revision, "revision", "", "Repository revision (branch, tag or commit)")
	c.Flags().StringVar(&dir, "dir", "", "Inspect a model stored in a local directory")
	c.Flags().BoolVar(&jsonFormat, "json", false, "Print the statistics as JSON")
	return c
}

func statsTable(report *inspector.Report) string {
	var buf bytes.Buffer
	if report.Revision != "" {
		fmt.Fprintf(&buf, "Model: %s@%s (%s)\n\n", report.ModelID, report.Revision, report.Layout)
	} else {
		fmt.Fprintf(&buf, "Model: %s (%s)\n\n", report.ModelID, report.Layout)
	}

	table := tablewriter.NewWriter(&buf)

	table.SetHeader([]string{"COMPONENT", "DTYPE", "PARAMETERS", "SIZE"})

	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,  // COMPONENT
		tablewriter.ALIGN_LEFT,  // DTYPE
		tablewriter.ALIGN_RIGHT, // PARAMETERS
		tablewriter.ALIGN_RIGHT, // SIZE
	})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for c := report.Components.Oldest(); c != nil; c = c.Next() {
		for d := c.Value.Dtypes.Oldest(); d != nil; d = d.Next() {
			table.Append([]string{
				c.Key,
				d.Key,
				safetensors.FormatParameters(d.Value.ParamCount),
				safetensors.FormatSize(d.Value.BytesCount),
			})
		}
		if c.Value.Dtypes.Len() > 1 {
			table.Append([]string{
				c.Key,
				"all",
				safetensors.FormatParameters(c.Value.ParamCount),
				safetensors.FormatSize(c.Value.BytesCount),
			})
		}
	}
	table.Append([]string{
		"TOTAL",
		"",
		safetensors.FormatParameters(report.ParamCount),
		safetensors.FormatSize(report.BytesCount),
	})

	table.Render()
	return buf.String()
}
