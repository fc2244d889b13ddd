package main

import (
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orders",
		Short:         "Order fulfillment: import, reserve, charge, settle, refund",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newImportCmd())
	root.AddCommand(newRefundCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newNotifierCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Import an orders CSV and queue processing per order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "orders-import")
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.connect(ctx); err != nil {
				return err
			}

			res, err := a.importer(a.queue()).ImportFile(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Import complete. Imported %d rows, skipped %d.\n", res.Imported, res.Skipped)
			fmt.Fprintf(out, "Queued processing for %d orders.\n", res.Queued)
			return nil
		},
	}
}

func newRefundCmd() *cobra.Command {
	var key, reason string
	cmd := &cobra.Command{
		Use:   "refund <order_id> <amount_cents>",
		Short: "Request a partial or full refund for an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount_cents %q is not an integer", args[1])
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, "orders-refund")
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.connect(ctx); err != nil {
				return err
			}

			rf, created, err := a.refunds(a.queue()).Request(ctx, args[0], amount, key, reason)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "Refund %s already exists for key %q (status %s).\n", rf.ID, key, rf.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refund %s queued for order %s (amount %d).\n", rf.ID, rf.OrderID, rf.AmountCents)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key")
	cmd.Flags().StringVar(&reason, "reason", "", "refund reason")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "orders-migrate")
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.connectDB(ctx); err != nil {
				return err
			}
			if err := postgres.Migrate(ctx, a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
