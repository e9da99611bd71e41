package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labelworks/parser-cli/internal/cost"
	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/pipeline"
	"github.com/labelworks/parser-cli/internal/store"
	"github.com/labelworks/parser-cli/internal/vocab"
	anthropicpkg "github.com/labelworks/parser-cli/pkg/anthropic"
)

var (
	parseUPC    string
	parseName   string
	parseRecord string
	parseNoSave bool
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse one product's label fragments into a normalized record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		product, err := resolveProduct(ctx, st)
		if err != nil {
			return err
		}

		p, client, err := initPipeline(st)
		if err != nil {
			return err
		}

		rec, err := p.Run(ctx, *product)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}
		logSpend(client)

		if !parseNoSave {
			recordID, err := st.SaveRecord(ctx, rec)
			if err != nil {
				return eris.Wrap(err, "save record")
			}
			zap.L().Info("record saved", zap.String("record_id", recordID))
		}

		zap.L().Info("parse complete",
			zap.String("product", rec.ProductID),
			zap.Int("ingredients", len(rec.Ingredients)),
			zap.Int("claims", len(rec.Claims)),
			zap.Bool("flagged", rec.RecordFlagged),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// resolveProduct picks the input product from whichever flag was given:
// a UPC or name lookup against the catalog, or a product JSON file.
func resolveProduct(ctx context.Context, st store.Store) (*model.Product, error) {
	switch {
	case parseRecord != "":
		data, err := os.ReadFile(parseRecord)
		if err != nil {
			return nil, eris.Wrapf(err, "read product file %s", parseRecord)
		}
		var p model.Product
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrapf(err, "parse product file %s", parseRecord)
		}
		return &p, nil
	case parseUPC != "":
		return st.GetProductByUPC(ctx, parseUPC)
	case parseName != "":
		return st.FindProductByName(ctx, parseName)
	default:
		return nil, eris.New("one of --upc, --name, or --record is required")
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initPipeline(cache pipeline.ExtractionCache) (*pipeline.Pipeline, *anthropicpkg.TrackingClient, error) {
	vs, err := vocab.Load(cfg.Vocab.Path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load vocabulary")
	}
	zap.L().Info("vocabulary loaded", zap.Int("entries", len(vs.Entries())))

	client := anthropicpkg.NewTracking(anthropicpkg.NewClient(cfg.Anthropic.Key))
	return pipeline.New(cfg, vs, client, cache), client, nil
}

func logSpend(client *anthropicpkg.TrackingClient) {
	usage := client.Usage()
	calc := cost.NewCalculator(cost.DefaultRates())
	zap.L().Info("extraction spend",
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Float64("estimated_cost_usd", calc.Claude(cfg.Anthropic.Model, usage)),
	)
}

func init() {
	parseCmd.Flags().StringVar(&parseUPC, "upc", "", "product UPC to look up in the catalog")
	parseCmd.Flags().StringVar(&parseName, "name", "", "product name to look up in the catalog")
	parseCmd.Flags().StringVar(&parseRecord, "record", "", "path to a product JSON file")
	parseCmd.Flags().BoolVar(&parseNoSave, "no-save", false, "print the record without persisting it")
	parseCmd.MarkFlagsMutuallyExclusive("upc", "name", "record")
	rootCmd.AddCommand(parseCmd)
}
