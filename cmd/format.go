package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/monitoring"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

const timeLayout = "2006-01-02 15:04"

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode json")
	}
	return nil
}

func formatAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

func formatResult(out io.Writer, res *model.PipelineResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	inv := res.Invoice

	fmt.Fprintf(w, "Key:\t%s\n", res.Key)
	fmt.Fprintf(w, "Document:\t%s\n", inv.DocumentPath)
	fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	fmt.Fprintf(w, "Review:\t%s\n", inv.ReviewStatus)
	fmt.Fprintf(w, "Vendor:\t%s\n", inv.VendorName)
	fmt.Fprintf(w, "Invoice:\t%s\n", inv.InvoiceNumber)
	fmt.Fprintf(w, "Date:\t%s\n", inv.InvoiceDate)
	fmt.Fprintf(w, "Total:\t%s %s\n", formatAmount(inv.TotalAmount), inv.Currency)
	fmt.Fprintf(w, "Tax:\t%s\n", formatAmount(inv.TaxAmount))
	fmt.Fprintf(w, "Confidence:\t%.2f\n", inv.Confidence)

	if res.Matching != nil {
		po := "-"
		if res.Matching.PONumber != nil {
			po = *res.Matching.PONumber
		}
		fmt.Fprintf(w, "PO match:\t%s (%s)\n", po, res.Matching.Status)
	}
	if res.Review != nil && len(res.Review.Reasons) > 0 {
		fmt.Fprintf(w, "Reasons:\t%s\n", strings.Join(res.Review.Reasons, "; "))
	}
	if res.Error != "" {
		fmt.Fprintf(w, "Error:\t%s (stage %s)\n", res.Error, res.FailedStage)
	}
	fmt.Fprintf(w, "Time:\t%.2fs\n", res.Timings.Total)

	w.Flush() //nolint:errcheck
	fmt.Fprintln(out)
}

func formatInvoicesList(out io.Writer, results []model.PipelineResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVENDOR\tTOTAL\tSTATUS\tREVIEW\tCONFIDENCE\tUPDATED")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			r.Key,
			r.Invoice.VendorName,
			formatAmount(r.Invoice.TotalAmount),
			r.Status,
			r.Invoice.ReviewStatus,
			r.Invoice.Confidence,
			r.UpdatedAt.Format(timeLayout),
		)
	}
	w.Flush() //nolint:errcheck
}

func formatAnomalies(out io.Writer, records []model.AnomalyRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INVOICE\tSEVERITY\tANOMALIES\tDETECTED\tRESOLVED")
	for _, r := range records {
		kinds := make([]string, 0, len(r.Anomalies))
		for k := range r.Anomalies {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)

		resolved := "no"
		if r.Resolved {
			resolved = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.InvoiceNumber,
			r.Severity,
			strings.Join(kinds, ","),
			r.DetectedAt.Format(timeLayout),
			resolved,
		)
	}
	w.Flush() //nolint:errcheck
}

func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDOCUMENT\tSTAGE\tTYPE\tRETRIES\tNEXT RETRY\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			e.DocumentPath,
			e.FailedStage,
			e.ErrorType,
			e.RetryCount, e.MaxRetries,
			e.NextRetryAt.Format(timeLayout),
			truncate(e.Error, 60),
		)
	}
	w.Flush() //nolint:errcheck
}

func formatBatchSummary(out io.Writer, s pipeline.BatchSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Documents:\t%d\n", s.Total)
	fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	fmt.Fprintf(w, "  Approved:\t%d\n", s.Approved)
	fmt.Fprintf(w, "  Needs review:\t%d\n", s.NeedsReview)
	fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	fmt.Fprintf(w, "Errors:\t%d\n", s.Errors)
	fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(w, "Duration:\t%.1fs\n", float64(s.DurationMs)/1000)
	w.Flush() //nolint:errcheck
}

func formatMetrics(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	fmt.Fprintf(w, "Invoices:\t%d\n", snap.Total)
	fmt.Fprintf(w, "Error rate:\t%.1f%%\n", snap.ErrorRate*100)
	fmt.Fprintf(w, "Review rate:\t%.1f%%\n", snap.ReviewRate*100)
	fmt.Fprintf(w, "Avg confidence:\t%.2f\n", snap.AvgConfidence)
	fmt.Fprintf(w, "Avg time:\t%.2fs\n", snap.AvgTimings.Total)
	fmt.Fprintf(w, "Review backlog:\t%d\n", snap.ReviewBacklog)
	fmt.Fprintf(w, "Unresolved anomalies:\thigh %d, medium %d, low %d\n",
		snap.UnresolvedAnomalies[model.SeverityHigh],
		snap.UnresolvedAnomalies[model.SeverityMedium],
		snap.UnresolvedAnomalies[model.SeverityLow],
	)
	fmt.Fprintf(w, "DLQ depth:\t%d\n", snap.DLQDepth)
	w.Flush() //nolint:errcheck

	if len(alerts) == 0 {
		fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	fmt.Fprintln(out, "\nAlerts:")
	for _, a := range alerts {
		fmt.Fprintf(out, "  [%s] %s\n", a.Severity, a.Message)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
