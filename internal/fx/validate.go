package fx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QuoteProvider exposes lookup for the latest FX quote on or before a date.
type QuoteProvider interface {
	QuoteForPeriod(ctx context.Context, orgID uuid.UUID, asOf time.Time, pair string) (Quote, bool, error)
}

// Requirement declares which FX conversion methods must be available for a pair.
type Requirement struct {
	Pair    string
	Methods []Method
}

// Gap contains missing conversion methods for a pair.
type Gap struct {
	Pair    string
	Methods []Method
}

func (g Gap) String() string {
	methods := make([]string, 0, len(g.Methods))
	for _, m := range g.Methods {
		methods = append(methods, string(m))
	}
	return g.Pair + " (" + strings.Join(methods, ", ") + ")"
}

// Result summarises the validation outcome.
type Result struct {
	AsOf      time.Time
	Checked   int
	Gaps      []Gap
	Available map[string]Quote
}

// Validate ensures all requested FX conversion methods are configured as of the given date.
func Validate(ctx context.Context, provider QuoteProvider, orgID uuid.UUID, asOf time.Time, reqs []Requirement) (Result, error) {
	var res Result
	if provider == nil {
		return res, fmt.Errorf("fx: quote provider required")
	}
	if asOf.IsZero() {
		return res, fmt.Errorf("fx: as-of date is required")
	}
	y, m, d := asOf.Date()
	res.AsOf = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if len(reqs) == 0 {
		res.Available = map[string]Quote{}
		return res, nil
	}
	pairs := make(map[string]map[Method]struct{})
	for _, req := range reqs {
		pair := strings.ToUpper(strings.TrimSpace(req.Pair))
		if pair == "" {
			return Result{}, fmt.Errorf("fx: pair required")
		}
		if len(req.Methods) == 0 {
			return Result{}, fmt.Errorf("fx: methods required for pair %s", pair)
		}
		methodSet := pairs[pair]
		if methodSet == nil {
			methodSet = make(map[Method]struct{}, len(req.Methods))
			pairs[pair] = methodSet
		}
		for _, method := range req.Methods {
			switch method {
			case MethodAverage, MethodClosing:
				methodSet[method] = struct{}{}
			default:
				return Result{}, fmt.Errorf("fx: unsupported method %q for pair %s", method, pair)
			}
		}
	}
	res.Available = make(map[string]Quote, len(pairs))
	res.Gaps = make([]Gap, 0)
	keys := make([]string, 0, len(pairs))
	for pair := range pairs {
		keys = append(keys, pair)
	}
	sort.Strings(keys)
	for _, pair := range keys {
		quote, ok, err := provider.QuoteForPeriod(ctx, orgID, res.AsOf, pair)
		if err != nil {
			return Result{}, err
		}
		res.Checked++
		if !ok {
			res.Gaps = append(res.Gaps, Gap{Pair: pair, Methods: sortedMethods(pairs[pair])})
			continue
		}
		res.Available[pair] = quote
		if missing := missingMethods(quote, pairs[pair]); len(missing) > 0 {
			res.Gaps = append(res.Gaps, Gap{Pair: pair, Methods: missing})
		}
	}
	return res, nil
}

func sortedMethods(methods map[Method]struct{}) []Method {
	out := make([]Method, 0, len(methods))
	for method := range methods {
		out = append(out, method)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i]) < string(out[j]) })
	return out
}

func missingMethods(quote Quote, required map[Method]struct{}) []Method {
	missing := make([]Method, 0, len(required))
	for method := range required {
		if _, ok := quote.Rate(method); !ok {
			missing = append(missing, method)
		}
	}
	if len(missing) > 1 {
		sort.Slice(missing, func(i, j int) bool { return string(missing[i]) < string(missing[j]) })
	}
	return missing
}

// Prepare validates that every currency converts into policy.ReportingCurrency with method
// as of asOf and returns a converter over the resolved quotes.
func Prepare(ctx context.Context, provider QuoteProvider, orgID uuid.UUID, policy Policy, asOf time.Time, currencies []string, method Method) (*Converter, []Gap, error) {
	reqs := make([]Requirement, 0, len(currencies))
	seen := make(map[string]struct{}, len(currencies))
	for _, cur := range currencies {
		cur = strings.ToUpper(cur)
		if cur == "" || cur == strings.ToUpper(policy.ReportingCurrency) {
			continue
		}
		if _, dup := seen[cur]; dup {
			continue
		}
		seen[cur] = struct{}{}
		reqs = append(reqs, Requirement{Pair: Pair(cur, policy.ReportingCurrency), Methods: []Method{method}})
	}
	if len(reqs) == 0 {
		return NewConverter(policy, nil), nil, nil
	}
	res, err := Validate(ctx, provider, orgID, asOf, reqs)
	if err != nil {
		return nil, nil, err
	}
	return NewConverter(policy, res.Available), res.Gaps, nil
}
