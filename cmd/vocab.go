package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labelworks/parser-cli/internal/vocab"
)

var (
	vocabImportOut string
	vocabListCat   string
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Manage the approved canonical vocabulary",
}

var vocabImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Import a customer-approved spreadsheet into the vocabulary YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := vocab.ImportXLSX(args[0])
		if err != nil {
			return eris.Wrapf(err, "import %s", args[0])
		}

		out := vocabImportOut
		if out == "" {
			out = cfg.Vocab.Path
		}

		data, err := vocab.WriteYAML(entries)
		if err != nil {
			return eris.Wrap(err, "encode vocabulary")
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", out)
		}

		zap.L().Info("vocabulary imported",
			zap.String("source", args[0]),
			zap.String("dest", out),
			zap.Int("entries", len(entries)),
		)
		return nil
	},
}

var vocabListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print vocabulary entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		vs, err := vocab.Load(cfg.Vocab.Path)
		if err != nil {
			return eris.Wrap(err, "load vocabulary")
		}

		entries := vs.Entries()
		if vocabListCat != "" {
			entries = vs.Partition(vocab.Category(vocabListCat))
		}

		for _, e := range entries {
			line := fmt.Sprintf("%-12s %s", e.Category, e.CanonicalName)
			if len(e.Aliases) > 0 {
				line += fmt.Sprintf("  (aliases: %v)", e.Aliases)
			}
			fmt.Fprintln(os.Stdout, line)
		}
		fmt.Fprintf(os.Stdout, "%d entries\n", len(entries))
		return nil
	},
}

func init() {
	vocabImportCmd.Flags().StringVar(&vocabImportOut, "out", "", "destination YAML path (defaults to the configured vocabulary path)")
	vocabListCmd.Flags().StringVar(&vocabListCat, "category", "", "only list one category (ingredient or claim)")
	vocabCmd.AddCommand(vocabImportCmd, vocabListCmd)
	rootCmd.AddCommand(vocabCmd)
}
