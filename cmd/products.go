package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labelworks/parser-cli/internal/model"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Manage the product catalog",
}

var productsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load products (upc, name, fragments) from a JSON array into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		var products []model.Product
		if err := json.Unmarshal(data, &products); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, p := range products {
			if p.ID == "" {
				return eris.Errorf("product %q has no upc", p.Name)
			}
			if err := st.UpsertProduct(ctx, p); err != nil {
				return err
			}
		}

		zap.L().Info("products imported", zap.Int("count", len(products)))
		return nil
	},
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print catalog products",
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
		for _, p := range products {
			fmt.Fprintf(os.Stdout, "%-16s %s (%d fragments)\n", p.ID, p.Name, len(p.Fragments))
		}
		fmt.Fprintf(os.Stdout, "%d products\n", len(products))
		return nil
	},
}

func init() {
	productsCmd.AddCommand(productsImportCmd, productsListCmd)
	rootCmd.AddCommand(productsCmd)
}
