package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"juris/internal/export"

	"github.com/spf13/cobra"
)

func (c *cli) exportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export [file.md]",
		Short: "Convert a Markdown file to docx, html or pdf",
		Long: `Converts a Markdown file. The output defaults to the input name with
the format's extension. PDF needs a Chromium binary (export.browser_bin or
JURIS_BROWSER_BIN).

Example:
  juris export --format docx opinion.md -o opinion.docx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + f.Extension()
			}
			if filepath.Clean(output) == filepath.Clean(args[0]) {
				return fmt.Errorf("output would overwrite %s", args[0])
			}

			exp := export.New(c.cfg.Export.BrowserBin, c.cfg.GetPDFTimeout())
			data, err := exp.Render(cmd.Context(), f, string(src))
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatDocx), "Output format: docx, html, pdf or md")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path")
	return cmd
}
