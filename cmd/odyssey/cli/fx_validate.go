package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
)

// FXValidateOptions defines available flags for the fx validate command.
type FXValidateOptions struct {
	OrgID      string
	Period     string
	Pairs      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXValidateSummary describes the JSON response for fx validate.
type FXValidateSummary struct {
	OK              bool                       `json:"ok"`
	AsOf            string                     `json:"as_of"`
	Gaps            []FXValidationGap          `json:"gaps"`
	AvailableQuotes []FXValidationAvailability `json:"available_quotes"`
}

// FXValidationGap captures a missing FX method for a pair.
type FXValidationGap struct {
	Pair   string `json:"pair"`
	Method string `json:"method"`
}

// FXValidationAvailability reports a configured FX quote.
type FXValidationAvailability struct {
	Pair   string `json:"pair"`
	Method string `json:"method"`
	Rate   string `json:"rate"`
}

// ValidateCommand checks that every pair has both rates as of the end of the period.
// Exit codes: 0 when complete, 10 when gaps exist, 1 on usage or backend errors.
func (c *FXOpsCLI) ValidateCommand(ctx context.Context, opts FXValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	org, err := parseOrg(opts.OrgID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx validate: %v\n", err)
		return 1
	}
	period, err := time.Parse("2006-01", strings.TrimSpace(opts.Period))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx validate: invalid period %q (expected YYYY-MM)\n", opts.Period)
		return 1
	}
	if len(opts.Pairs) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "fx validate: at least one --pair is required")
		return 1
	}
	reqs := make([]fx.Requirement, 0, len(opts.Pairs))
	for _, raw := range opts.Pairs {
		pair, err := normalizePair(raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx validate: %v\n", err)
			return 1
		}
		reqs = append(reqs, fx.Requirement{Pair: pair, Methods: []fx.Method{fx.MethodAverage, fx.MethodClosing}})
	}
	result, err := fx.Validate(ctx, c.rates, org, monthEnd(period), reqs)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx validate: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(buildValidateSummary(result)); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderValidateHuman(opts.Stdout, result)
	}
	if len(result.Gaps) > 0 {
		return 10
	}
	return 0
}

func buildValidateSummary(result fx.Result) FXValidateSummary {
	gaps := make([]FXValidationGap, 0, len(result.Gaps))
	for _, gap := range result.Gaps {
		for _, method := range gap.Methods {
			gaps = append(gaps, FXValidationGap{Pair: gap.Pair, Method: string(method)})
		}
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Pair == gaps[j].Pair {
			return gaps[i].Method < gaps[j].Method
		}
		return gaps[i].Pair < gaps[j].Pair
	})
	available := make([]FXValidationAvailability, 0, len(result.Available)*2)
	for pair, quote := range result.Available {
		for _, method := range []fx.Method{fx.MethodAverage, fx.MethodClosing} {
			if rate, ok := quote.Rate(method); ok {
				available = append(available, FXValidationAvailability{Pair: pair, Method: string(method), Rate: rate.String()})
			}
		}
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].Pair == available[j].Pair {
			return available[i].Method < available[j].Method
		}
		return available[i].Pair < available[j].Pair
	})
	return FXValidateSummary{
		OK:              len(gaps) == 0,
		AsOf:            result.AsOf.Format("2006-01-02"),
		Gaps:            gaps,
		AvailableQuotes: available,
	}
}

func renderValidateHuman(out io.Writer, result fx.Result) {
	_, _ = fmt.Fprintf(out, "FX validation as of %s (%d pair(s) checked)\n", result.AsOf.Format("2006-01-02"), result.Checked)
	if len(result.Gaps) == 0 {
		_, _ = fmt.Fprintln(out, "All required FX rates are present.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(result.Gaps))
	for _, gap := range result.Gaps {
		_, _ = fmt.Fprintf(out, " - %s\n", gap)
	}
}
