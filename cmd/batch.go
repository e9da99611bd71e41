package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Parse every product in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		products, err := st.ListProducts(ctx)
		if err != nil {
			return eris.Wrap(err, "list products")
		}
		if len(products) == 0 {
			zap.L().Warn("catalog is empty, nothing to do")
			return nil
		}

		p, client, err := initPipeline(st)
		if err != nil {
			return err
		}

		records, runErr := p.RunAll(ctx, products)
		logSpend(client)

		saved, flagged := 0, 0
		for _, rec := range records {
			if rec == nil {
				continue
			}
			if _, err := st.SaveRecord(ctx, rec); err != nil {
				zap.L().Error("save record failed",
					zap.String("product", rec.ProductID),
					zap.Error(err),
				)
				continue
			}
			saved++
			if rec.RecordFlagged {
				flagged++
			}
		}

		zap.L().Info("batch complete",
			zap.Int("products", len(products)),
			zap.Int("saved", saved),
			zap.Int("flagged", flagged),
		)
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
}
