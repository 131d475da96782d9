// Package report prints a multi-run result for people reading a terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/multirun"
)

const ruleWidth = 80

// Console prints a summary of the result to w.
func Console(w io.Writer, result *multirun.MultiRunResult) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	agg := result.AggregatedReport
	rule := strings.Repeat("=", ruleWidth)

	fmt.Fprintln(w, "\n"+rule)
	bold.Fprintf(w, "[Summary] %s\n", agg.ScenarioName)
	fmt.Fprintln(w, rule)

	rateColor := green
	switch {
	case agg.PassRate == 0:
		rateColor = red
	case agg.PassRate < 100:
		rateColor = yellow
	}
	fmt.Fprintf(w, "  Runs:           %d (passed %d, failed %d, error %d)\n",
		agg.TotalRuns, agg.PassedRuns, agg.FailedRuns, agg.ErrorRuns)
	rateColor.Fprintf(w, "  Pass rate:      %.1f%%\n", agg.PassRate)
	if agg.IsFlaky {
		yellow.Fprintln(w, "  Flaky:          yes")
	}
	fmt.Fprintf(w, "  Duration:       mean %.0fms, median %.0fms, stddev %.0fms\n",
		agg.DurationStats.Mean, agg.DurationStats.Median, agg.DurationStats.StdDev)
	if agg.UsageStats != nil {
		fmt.Fprintf(w, "  Tokens:         mean %s total per run\n", formatNumber(int(agg.UsageStats.TotalTokens.Mean)))
	}
	if agg.CostStats != nil {
		fmt.Fprintf(w, "  Cost:           mean $%.4f per run ($%.4f overall)\n",
			agg.CostStats.TotalCost.Mean, agg.CostStats.TotalCost.Mean*float64(agg.CostStats.TotalCost.Count))
	}

	if len(agg.Steps) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "  Steps:")
		for _, s := range agg.Steps {
			c := green
			symbol := "✓"
			if s.PassCount < s.TotalRuns {
				c, symbol = red, "✗"
				if s.IsFlaky {
					c = yellow
				}
			}
			c.Fprintf(w, "    %s %d. %s [%s] %d/%d (%.1f%%)", symbol, s.StepIndex+1, s.StepLabel, s.StepType,
				s.PassCount, s.TotalRuns, s.PassRate)
			if s.IsFlaky {
				yellow.Fprint(w, " flaky")
			}
			fmt.Fprintln(w)
			for _, f := range s.Failures {
				fmt.Fprintf(w, "        • %dx %s\n", f.Count, model.TruncateString(f.Message, 120))
			}
		}
	}

	if len(agg.Hallucinations) > 0 {
		fmt.Fprintln(w)
		red.Fprintln(w, "  Possible hallucinations:")
		for _, h := range agg.Hallucinations {
			fmt.Fprintf(w, "    • step %d (%s): %d/%d runs (%.1f%%)\n",
				h.StepIndex+1, h.StepLabel, h.OccurrenceCount, h.TotalRuns, h.Rate)
			for _, o := range h.Occurrences {
				fmt.Fprintf(w, "        run %d claimed %q without calling %s\n",
					o.RunIndex+1, model.TruncateString(o.ResponseText, 60), strings.Join(o.MissingToolCalls, ", "))
			}
		}
	}

	fmt.Fprintln(w, rule)
	if result.Success {
		green.Fprintln(w, "PASSED")
	} else {
		red.Fprintln(w, "FAILED")
	}
	fmt.Fprintln(w, rule)
}

func formatNumber(n int) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
