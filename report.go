package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/nebulablock/rpdprobe/common/helper"
)

type summaryRow struct {
	outcome     tierOutcome
	requests    int
	successful  int
	rateLimited int
	failed      int
	// firstRateLimited counts across phases, so for a finite tier it should be R+1.
	firstRateLimited int
}

type summary struct {
	rows     []summaryRow
	passed   int
	failed   int
	skipped  int
	requests int
}

// buildSummary aggregates tier outcomes for rendering.
func buildSummary(outcomes []tierOutcome) summary {
	var s summary
	for _, o := range outcomes {
		row := summaryRow{outcome: o}
		offset := 0
		for _, p := range o.Report.Phases {
			res := p.Result
			row.successful += res.Successful
			row.rateLimited += res.RateLimited
			row.failed += res.Failed
			if row.firstRateLimited == 0 && res.FirstRateLimitedIndex > 0 {
				row.firstRateLimited = offset + res.FirstRateLimitedIndex
			}
			offset += res.Requested
		}
		row.requests = o.Report.TotalRequests()
		s.requests += row.requests

		switch {
		case o.Skipped:
			s.skipped++
		case o.Report.Passed():
			s.passed++
		default:
			s.failed++
		}
		s.rows = append(s.rows, row)
	}
	return s
}

func stateLabel(o tierOutcome) string {
	switch {
	case o.Skipped:
		return "SKIPPED"
	case o.Report.Passed():
		return "PASS"
	default:
		return "FAIL"
	}
}

// renderSummary prints the per-tier table followed by totals and failure reasons.
func renderSummary(w io.Writer, s summary) {
	if len(s.rows) == 0 {
		fmt.Fprintln(w, "no tiers to report")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Rate Limit Tier Validation ===")
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Tier", "Limit", "Result", "State", "Requests", "Success", "429", "Failed", "First 429", "Elapsed"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range s.rows {
		report := row.outcome.Report
		first := "-"
		if row.firstRateLimited > 0 {
			first = strconv.Itoa(row.firstRateLimited)
		}
		elapsed := "-"
		if !report.FinishedAt.IsZero() && !row.outcome.Skipped {
			elapsed = report.FinishedAt.Sub(report.StartedAt).Truncate(10 * time.Millisecond).String()
		}
		table.Append([]string{
			row.outcome.Policy.Name,
			row.outcome.Policy.RequestsPerDay.String(),
			stateLabel(row.outcome),
			string(report.State),
			strconv.Itoa(row.requests),
			strconv.Itoa(row.successful),
			strconv.Itoa(row.rateLimited),
			strconv.Itoa(row.failed),
			first,
			elapsed,
		})
	}
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Totals  | Tiers: %d | Passed: %d | Failed: %d | Skipped: %d | Requests: %d\n",
		len(s.rows), s.passed, s.failed, s.skipped, s.requests)

	var failures, skips []string
	for _, row := range s.rows {
		o := row.outcome
		switch {
		case o.Skipped:
			skips = append(skips, fmt.Sprintf("- %s → %s", o.Policy.Name, o.Report.Reason))
		case !o.Report.Passed():
			reason := o.Report.Reason
			if reason == "" && o.Err != nil {
				reason = o.Err.Error()
			}
			failures = append(failures, fmt.Sprintf("- %s → %s", o.Policy.Name, helper.Shorten(reason, 200)))
		}
	}
	if len(failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failures:")
		fmt.Fprintln(w, strings.Join(failures, "\n"))
	}
	if len(skips) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Skipped (credential not configured):")
		fmt.Fprintln(w, strings.Join(skips, "\n"))
	}
	fmt.Fprintln(w)
}
