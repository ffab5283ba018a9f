package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/review"
	"github.com/sells-group/invoice-cli/internal/store"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Inspect and review processed invoices",
}

// -- invoices list --

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed invoices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		reviewStatus, _ := cmd.Flags().GetString("review-status")
		number, _ := cmd.Flags().GetString("number")
		limit, _ := cmd.Flags().GetInt("limit")

		results, err := st.ListInvoices(ctx, store.InvoiceFilter{
			Status:        model.PipelineStatus(status),
			ReviewStatus:  model.ReviewStatus(reviewStatus),
			InvoiceNumber: number,
			Limit:         limit,
		})
		if err != nil {
			return eris.Wrap(err, "invoices list")
		}

		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No invoices found.")
			return nil
		}

		formatInvoicesList(os.Stdout, results)
		return nil
	},
}

// -- invoices show --

var invoicesShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show the full pipeline result of an invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := st.GetInvoice(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "invoices show %s", args[0])
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- invoices review --

var invoicesReviewCmd = &cobra.Command{
	Use:   "review <key>",
	Short: "Correct fields and record a review decision",
	Example: `  invoice-cli invoices review INV-1001 --set total_amount=120.00 --status approved
  invoice-cli invoices review INV-1002 --status rejected --notes "duplicate"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sets, _ := cmd.Flags().GetStringArray("set")
		status, _ := cmd.Flags().GetString("status")
		notes, _ := cmd.Flags().GetString("notes")
		by, _ := cmd.Flags().GetString("by")

		fields, err := parseFieldSets(sets)
		if err != nil {
			return err
		}
		if len(fields) == 0 && status == "" {
			return eris.New("invoices review: --set or --status is required")
		}

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := review.NewDesk(st).Update(ctx, args[0], review.Update{
			Fields: fields,
			Status: model.ReviewStatus(status),
			Notes:  notes,
			By:     by,
		})
		if err != nil {
			return eris.Wrapf(err, "invoices review %s", args[0])
		}

		formatResult(os.Stdout, res)
		return nil
	},
}

// parseFieldSets turns repeated field=value flags into a map.
func parseFieldSets(sets []string) (map[string]string, error) {
	fields := make(map[string]string, len(sets))
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, eris.Errorf("invalid --set %q, want field=value", s)
		}
		fields[name] = value
	}
	return fields, nil
}

func init() {
	invoicesListCmd.Flags().String("status", "", "filter by pipeline status (completed, error, skipped, ...)")
	invoicesListCmd.Flags().String("review-status", "", "filter by review status (approved, needs_review, ...)")
	invoicesListCmd.Flags().String("number", "", "filter by invoice number")
	invoicesListCmd.Flags().Int("limit", 20, "max invoices to show")

	invoicesReviewCmd.Flags().StringArray("set", nil, "field=value correction (repeatable)")
	invoicesReviewCmd.Flags().String("status", "", "review decision (approved, rejected, needs_review)")
	invoicesReviewCmd.Flags().String("notes", "", "reviewer notes")
	invoicesReviewCmd.Flags().String("by", os.Getenv("USER"), "reviewer name")

	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesShowCmd)
	invoicesCmd.AddCommand(invoicesReviewCmd)
	rootCmd.AddCommand(invoicesCmd)
}
