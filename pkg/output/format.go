// Package output renders assessment reports for the console and for machines.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/iwvelando/unwind-risk/internal/risk"
	"github.com/iwvelando/unwind-risk/internal/storage"
	"github.com/iwvelando/unwind-risk/pkg/format"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotFoundLabel is printed for a threshold that no grid point crossed.
const NotFoundLabel = "exceeds grid upper bound"

// PrettyFormat writes a human-readable rather than machine-readable report.
func PrettyFormat(w io.Writer, a *risk.Assessment) error {
	p := message.NewPrinter(language.English)
	st := a.Stats

	_, _ = p.Fprintf(w, "--- Liquidation risk assessment %s ---\n", a.ID)
	_, _ = p.Fprintf(w, "Runs: %d | Seed: %d | Positions: %d @ %s | Blocks of %.2fs\n",
		st.Runs, st.Seed, a.Params.InitialPositions, format.Currency(a.Params.InitialPrice), a.Params.BlockDurationSec)
	_, _ = p.Fprintf(w, "Initial portfolio value: %s\n\n", format.Currency(st.InitialValue))

	err := renderTable(w, "loss", []any{"Loss", "Value"}, [][]string{
		{"Average", fmt.Sprintf("%s (%s)", format.Currency(st.MeanLoss), format.LossPercent(st.MeanPercentageLoss))},
		{"Minimum", format.LossPercent(st.MinPercentageLoss)},
		{"95th percentile", format.LossPercent(st.P95PercentageLoss)},
		{"99th percentile", format.LossPercent(st.P99PercentageLoss)},
		{"Maximum", fmt.Sprintf("%s (%s)", format.Currency(st.MaxLoss), format.LossPercent(st.MaxPercentageLoss))},
		{"Worst execution price", format.Currency(st.WorstExecutionPrice)},
		{"Max slippage", format.FractionPercent(st.MaxSlippage)},
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	seconds := func(blocks float64) string {
		return strconv.FormatFloat(a.BlocksToSeconds(blocks), 'f', 2, 64)
	}
	err = renderTable(w, "timing", []any{"Time to liquidate", "Blocks", "Seconds"}, [][]string{
		{"Average", strconv.FormatFloat(st.MeanBlocks, 'f', 2, 64), seconds(st.MeanBlocks)},
		{"99th percentile", strconv.Itoa(st.P99Blocks), seconds(float64(st.P99Blocks))},
		{"Maximum", strconv.Itoa(st.MaxBlocks), seconds(float64(st.MaxBlocks))},
	})
	if err != nil {
		return err
	}

	if a.Sensitivity != nil {
		fmt.Fprintln(w)
		_, _ = p.Fprintf(w, "Forced decay sensitivity (%d samples per rate)\n", a.Sensitivity.SampleSize)
		rows := make([][]string, 0, len(a.Sensitivity.Crossings))
		for _, c := range a.Sensitivity.Crossings {
			rows = append(rows, []string{format.FractionPercent(c.Threshold), crossingLabel(c.Found, c.DecayRate, a.Sensitivity.UpperBound)})
		}
		if err := renderTable(w, "sensitivity", []any{"Average loss above", "Decay per block"}, rows); err != nil {
			return err
		}
	}

	if len(a.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, warning := range a.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
	return nil
}

// renderTable writes one table, surfacing row and render errors.
func renderTable(w io.Writer, name string, header []any, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("append %s rows: %w", name, err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render %s table: %w", name, err)
	}
	return nil
}

func crossingLabel(found bool, rate, upperBound float64) string {
	if !found {
		return fmt.Sprintf("%s (%s)", NotFoundLabel, format.FractionPercent(upperBound))
	}
	return format.FractionPercent(rate)
}

// CsvFormat writes the report as metric,value rows.
func CsvFormat(w io.Writer, a *risk.Assessment) error {
	st := a.Stats
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	rows := [][]string{
		{"metric", "value"},
		{"id", a.ID},
		{"runs", strconv.Itoa(st.Runs)},
		{"seed", strconv.FormatUint(st.Seed, 10)},
		{"initial_value", f(st.InitialValue)},
		{"mean_loss", f(st.MeanLoss)},
		{"max_loss", f(st.MaxLoss)},
		{"mean_pct_loss", f(st.MeanPercentageLoss)},
		{"min_pct_loss", f(st.MinPercentageLoss)},
		{"p95_pct_loss", f(st.P95PercentageLoss)},
		{"p99_pct_loss", f(st.P99PercentageLoss)},
		{"max_pct_loss", f(st.MaxPercentageLoss)},
		{"mean_blocks", f(st.MeanBlocks)},
		{"p99_blocks", strconv.Itoa(st.P99Blocks)},
		{"max_blocks", strconv.Itoa(st.MaxBlocks)},
		{"mean_seconds", f(a.BlocksToSeconds(st.MeanBlocks))},
		{"worst_execution_price", f(st.WorstExecutionPrice)},
		{"max_slippage", f(st.MaxSlippage)},
	}
	if a.Sensitivity != nil {
		for _, c := range a.Sensitivity.Crossings {
			value := NotFoundLabel
			if c.Found {
				value = f(c.DecayRate)
			}
			rows = append(rows, []string{"decay_rate_above_" + f(c.Threshold), value})
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// JSONFormat writes the full assessment as indented JSON.
func JSONFormat(w io.Writer, a *risk.Assessment) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// HistoryFormat writes stored assessment summaries as a table, newest first.
func HistoryFormat(w io.Writer, summaries []storage.Summary) error {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No stored assessments.")
		return nil
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		thresholds := ""
		for i, c := range s.Crossings {
			if i > 0 {
				thresholds += ", "
			}
			label := NotFoundLabel
			if c.Found {
				label = format.FractionPercent(c.DecayRate)
			}
			thresholds += format.FractionPercent(c.Threshold) + ": " + label
		}
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(s.Stats.Runs),
			format.LossPercent(s.Stats.MeanPercentageLoss),
			format.LossPercent(s.Stats.P99PercentageLoss),
			format.LossPercent(s.Stats.MaxPercentageLoss),
			strconv.Itoa(s.Stats.P99Blocks),
			thresholds,
		})
	}
	header := []any{"ID", "Created", "Runs", "Mean loss", "P99 loss", "Max loss", "P99 blocks", "Thresholds"}
	return renderTable(w, "history", header, rows)
}
