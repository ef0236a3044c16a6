package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
)

// FXBackfillMode selects between previewing and writing rates.
type FXBackfillMode string

const (
	// FXBackfillModeDry lists the months missing a quote.
	FXBackfillModeDry FXBackfillMode = "dry"
	// FXBackfillModeApply writes source rates for every missing month.
	FXBackfillModeApply FXBackfillMode = "apply"
)

const monthLayout = "2006-01"

// FXBackfillOptions configures fx backfill.
type FXBackfillOptions struct {
	OrgID        string
	Pair         string
	From         string
	To           string
	Mode         FXBackfillMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// FXBackfillMonth is one month of the requested range.
type FXBackfillMonth struct {
	Period  string           `json:"period"`
	Missing []fx.Method      `json:"missing_methods,omitempty"`
	Source  *FXBackfillQuote `json:"source,omitempty"`
	Applied bool             `json:"applied,omitempty"`
}

// FXBackfillQuote is a rate row read from the source CSV.
type FXBackfillQuote struct {
	Average decimal.Decimal `json:"average"`
	Closing decimal.Decimal `json:"closing"`
}

// FXBackfillSummary is the command output.
type FXBackfillSummary struct {
	OrgID  uuid.UUID         `json:"org_id"`
	Pair   string            `json:"pair"`
	Mode   FXBackfillMode    `json:"mode"`
	Gaps   int               `json:"gaps"`
	Months []FXBackfillMonth `json:"months"`
}

type backfillRequest struct {
	org      uuid.UUID
	pair     string
	mode     FXBackfillMode
	from, to time.Time
}

// BackfillCommand fills monthly quote gaps of one pair from a CSV source with
// columns period,pair,average,closing. Exit codes: 0 done or nothing missing,
// 10 when a dry run finds gaps, 1 on usage, source or backend errors.
func (c *FXOpsCLI) BackfillCommand(ctx context.Context, opts FXBackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	fail := func(err error) int {
		_, _ = fmt.Fprintf(opts.Stderr, "fx backfill: %v\n", err)
		return 1
	}
	req, err := parseBackfillRequest(opts)
	if err != nil {
		return fail(err)
	}
	source, err := readBackfillSource(opts, req.pair)
	if err != nil {
		return fail(err)
	}

	summary := FXBackfillSummary{OrgID: req.org, Pair: req.pair, Mode: req.mode}
	for month := req.from; !month.After(req.to); month = month.AddDate(0, 1, 0) {
		period := month.Format(monthLayout)
		res, err := fx.Validate(ctx, c.rates, req.org, monthEnd(month),
			[]fx.Requirement{{Pair: req.pair, Methods: []fx.Method{fx.MethodAverage, fx.MethodClosing}}})
		if err != nil {
			return fail(fmt.Errorf("validate %s: %w", period, err))
		}
		entry := FXBackfillMonth{Period: period}
		for _, gap := range res.Gaps {
			entry.Missing = append(entry.Missing, gap.Methods...)
		}
		if quote, ok := source[period]; ok {
			entry.Source = &quote
		}
		if len(entry.Missing) > 0 {
			summary.Gaps++
		}
		summary.Months = append(summary.Months, entry)
	}

	if req.mode == FXBackfillModeApply {
		if err := c.applyBackfill(ctx, req, summary.Months); err != nil {
			return fail(err)
		}
	}
	if err := writeBackfill(opts, summary); err != nil {
		return fail(err)
	}
	if req.mode == FXBackfillModeDry && summary.Gaps > 0 {
		return 10
	}
	return 0
}

// applyBackfill writes every missing month. It refuses to start unless the
// source covers all of them.
func (c *FXOpsCLI) applyBackfill(ctx context.Context, req backfillRequest, months []FXBackfillMonth) error {
	for _, m := range months {
		if len(m.Missing) == 0 {
			continue
		}
		if m.Source == nil {
			return fmt.Errorf("source has no %s rate for %s", req.pair, m.Period)
		}
		if !m.Source.Average.IsPositive() || !m.Source.Closing.IsPositive() {
			return fmt.Errorf("source rates for %s must be positive", m.Period)
		}
	}
	for i := range months {
		m := &months[i]
		if len(m.Missing) == 0 {
			continue
		}
		month, _ := time.Parse(monthLayout, m.Period)
		quote := fx.Quote{Average: m.Source.Average, Closing: m.Source.Closing}
		if err := c.rates.Upsert(ctx, req.org, req.pair[:3], req.pair[3:], monthEnd(month), quote); err != nil {
			return fmt.Errorf("apply %s: %w", m.Period, err)
		}
		m.Applied = true
	}
	return nil
}

func parseBackfillRequest(opts FXBackfillOptions) (backfillRequest, error) {
	var req backfillRequest
	var err error
	if req.org, err = parseOrg(opts.OrgID); err != nil {
		return req, err
	}
	if req.pair, err = normalizePair(opts.Pair); err != nil {
		return req, err
	}
	req.mode = FXBackfillMode(strings.ToLower(strings.TrimSpace(string(opts.Mode))))
	switch req.mode {
	case "":
		req.mode = FXBackfillModeDry
	case FXBackfillModeDry, FXBackfillModeApply:
	default:
		return req, fmt.Errorf("invalid --mode %q (dry or apply)", opts.Mode)
	}
	if req.from, err = time.Parse(monthLayout, strings.TrimSpace(opts.From)); err != nil {
		return req, fmt.Errorf("invalid --from %q (expected YYYY-MM)", opts.From)
	}
	if req.to, err = time.Parse(monthLayout, strings.TrimSpace(opts.To)); err != nil {
		return req, fmt.Errorf("invalid --to %q (expected YYYY-MM)", opts.To)
	}
	if req.from.After(req.to) {
		return req, errors.New("--from is after --to")
	}
	return req, nil
}

// readBackfillSource returns the pair's rows keyed by month. Lines starting
// with # are comments; a leading header row is skipped.
func readBackfillSource(opts FXBackfillOptions, pair string) (map[string]FXBackfillQuote, error) {
	in := opts.SourceReader
	switch {
	case in != nil:
	case opts.Source == "-":
		in = os.Stdin
	case strings.TrimSpace(opts.Source) == "":
		return map[string]FXBackfillQuote{}, nil
	default:
		f, err := os.Open(opts.Source)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	r := csv.NewReader(in)
	r.Comment = '#'
	r.FieldsPerRecord = 4
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	out := make(map[string]FXBackfillQuote)
	for i, rec := range records {
		if i == 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "period") {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(rec[1]), pair) {
			continue
		}
		month, err := time.Parse(monthLayout, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("source line %d: invalid period %q", i+1, rec[0])
		}
		avg, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, fmt.Errorf("source line %d: average: %w", i+1, err)
		}
		closing, err := decimal.NewFromString(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, fmt.Errorf("source line %d: closing: %w", i+1, err)
		}
		out[month.Format(monthLayout)] = FXBackfillQuote{Average: avg, Closing: closing}
	}
	return out, nil
}

func writeBackfill(opts FXBackfillOptions, summary FXBackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	_, _ = fmt.Fprintf(opts.Stdout, "FX backfill %s %s for org %s: %d month(s) missing quotes\n",
		summary.Mode, summary.Pair, summary.OrgID, summary.Gaps)
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PERIOD\tMISSING\tSOURCE AVG\tSOURCE CLOSE\tAPPLIED")
	for _, m := range summary.Months {
		missing := make([]string, len(m.Missing))
		for i, method := range m.Missing {
			missing[i] = string(method)
		}
		avg, closing := "-", "-"
		if m.Source != nil {
			avg, closing = m.Source.Average.String(), m.Source.Closing.String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", m.Period, strings.Join(missing, ","), avg, closing, m.Applied)
	}
	return tw.Flush()
}
