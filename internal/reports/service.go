package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/relationships"
	"github.com/odyssey-erp/odyssey-ledger/internal/reportcache"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

// readAttempts bounds retries of transient read failures.
const readAttempts = 3

// LedgerReader exposes aggregated posted activity.
type LedgerReader interface {
	Activity(ctx context.Context, orgID uuid.UUID, q ledger.ActivityQuery) ([]ledger.ActivityRow, error)
	LatestPostedAt(ctx context.Context, orgID uuid.UUID, from, to time.Time) (time.Time, bool, error)
}

// AccountSource lists account entities and their attributes.
type AccountSource interface {
	ListEntities(ctx context.Context, orgID uuid.UUID, entityType string, filter entities.ListFilter) ([]entities.Entity, error)
	AttributesFor(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]map[string]entities.Value, error)
}

// HierarchySource lists the account parent edges.
type HierarchySource interface {
	Edges(ctx context.Context, orgID uuid.UUID, relType string) ([]relationships.Relationship, error)
}

// Guard rejects reporting windows touching closed periods.
type Guard interface {
	EnsureReadable(ctx context.Context, orgID uuid.UUID, start, end time.Time) error
}

// CurrencySource resolves an organization's base currency.
type CurrencySource interface {
	BaseCurrency(ctx context.Context, orgID uuid.UUID) (string, error)
}

// Dependencies wires the reporting engine.
type Dependencies struct {
	Ledger     LedgerReader
	Accounts   AccountSource
	Hierarchy  HierarchySource
	Guard      Guard
	Rates      fx.QuoteProvider
	Currencies CurrencySource
	Cache      *reportcache.Cache
	CacheTTL   time.Duration
	Registry   *smartcode.Registry
	Logger     *slog.Logger
}

// Service produces financial statements.
type Service struct {
	ledger       LedgerReader
	accounts     AccountSource
	hierarchy    HierarchySource
	guard        Guard
	rates        fx.QuoteProvider
	currencies   CurrencySource
	cache        *reportcache.Cache
	ttl          time.Duration
	registry     *smartcode.Registry
	logger       *slog.Logger
	validate     *validator.Validate
	now          func() time.Time
	retryInitial time.Duration
}

// NewService constructs the reporting engine.
func NewService(deps Dependencies) *Service {
	if deps.Registry == nil {
		deps.Registry = smartcode.DefaultRegistry()
	}
	if deps.Rates == nil {
		deps.Rates = fx.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		ledger:       deps.Ledger,
		accounts:     deps.Accounts,
		hierarchy:    deps.Hierarchy,
		guard:        deps.Guard,
		rates:        deps.Rates,
		currencies:   deps.Currencies,
		cache:        deps.Cache,
		ttl:          deps.CacheTTL,
		registry:     deps.Registry,
		logger:       deps.Logger,
		validate:     validator.New(),
		now:          func() time.Time { return time.Now().UTC() },
		retryInitial: 100 * time.Millisecond,
	}
}

// WithNow overrides the clock used for generated_at and freshness fallbacks.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// TrialBalance lists every account's opening, movement and closing balance for the window.
func (s *Service) TrialBalance(ctx context.Context, cfg Config) (TrialBalance, error) {
	const op = "reports.trial_balance"
	cfg, err := s.prepare(ctx, op, KindTrialBalance, cfg)
	if err != nil {
		return TrialBalance{}, err
	}
	started := time.Now()
	out, hit, err := reportcache.Fetch(ctx, s.cache, s.key(KindTrialBalance, cfg), s.ttl, func(ctx context.Context) (TrialBalance, error) {
		return s.computeTrialBalance(ctx, op, cfg)
	})
	if err != nil {
		return TrialBalance{}, s.fail(op, KindTrialBalance, err)
	}
	s.finish(ctx, KindTrialBalance, cfg, started, hit, &out.Summary.Performance)
	return out, nil
}

// ProfitAndLoss builds the income statement for the window with optional comparisons.
func (s *Service) ProfitAndLoss(ctx context.Context, cfg Config) (ProfitAndLoss, error) {
	const op = "reports.profit_and_loss"
	cfg, err := s.prepare(ctx, op, KindProfitAndLoss, cfg)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	started := time.Now()
	out, hit, err := reportcache.Fetch(ctx, s.cache, s.key(KindProfitAndLoss, cfg), s.ttl, func(ctx context.Context) (ProfitAndLoss, error) {
		return s.computeProfitAndLoss(ctx, op, cfg)
	})
	if err != nil {
		return ProfitAndLoss{}, s.fail(op, KindProfitAndLoss, err)
	}
	s.finish(ctx, KindProfitAndLoss, cfg, started, hit, &out.Summary.Performance)
	return out, nil
}

// BalanceSheet builds the statement of financial position as of cfg.EndDate.
func (s *Service) BalanceSheet(ctx context.Context, cfg Config) (BalanceSheet, error) {
	const op = "reports.balance_sheet"
	cfg, err := s.prepare(ctx, op, KindBalanceSheet, cfg)
	if err != nil {
		return BalanceSheet{}, err
	}
	started := time.Now()
	out, hit, err := reportcache.Fetch(ctx, s.cache, s.key(KindBalanceSheet, cfg), s.ttl, func(ctx context.Context) (BalanceSheet, error) {
		return s.computeBalanceSheet(ctx, op, cfg)
	})
	if err != nil {
		return BalanceSheet{}, s.fail(op, KindBalanceSheet, err)
	}
	s.finish(ctx, KindBalanceSheet, cfg, started, hit, &out.Summary.Performance)
	return out, nil
}

// Generate runs the report named by kind.
func (s *Service) Generate(ctx context.Context, kind Kind, cfg Config) (any, error) {
	switch kind {
	case KindTrialBalance:
		return s.TrialBalance(ctx, cfg)
	case KindProfitAndLoss:
		return s.ProfitAndLoss(ctx, cfg)
	case KindBalanceSheet:
		return s.BalanceSheet(ctx, cfg)
	}
	return nil, shared.Validation("reports.generate", fmt.Sprintf("unknown report %q", kind))
}

func (s *Service) computeTrialBalance(ctx context.Context, op string, cfg Config) (TrialBalance, error) {
	balances, err := s.balances(ctx, op, cfg, ledger.ActivityQuery{From: cfg.StartDate, To: cfg.EndDate}, fx.MethodClosing)
	if err != nil {
		return TrialBalance{}, err
	}
	out := BuildTrialBalance(s.header(KindTrialBalance, cfg), balances)
	out.Summary.Performance.DataFreshness, err = s.freshness(ctx, cfg.OrgID, cfg.StartDate, cfg.EndDate)
	return out, err
}

func (s *Service) computeProfitAndLoss(ctx context.Context, op string, cfg Config) (ProfitAndLoss, error) {
	actual, err := s.balances(ctx, op, cfg, ledger.ActivityQuery{From: cfg.StartDate, To: cfg.EndDate}, fx.MethodAverage)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	var previous, budget []AccountBalance
	if cfg.ComparePreviousPeriod {
		from, to := PreviousPeriod(cfg.StartDate, cfg.EndDate)
		previous, err = s.balances(ctx, op, cfg, ledger.ActivityQuery{From: from, To: to}, fx.MethodAverage)
		if err != nil {
			return ProfitAndLoss{}, err
		}
		if previous == nil {
			previous = []AccountBalance{}
		}
	}
	if cfg.CompareBudget {
		budget, err = s.balances(ctx, op, cfg, ledger.ActivityQuery{From: cfg.StartDate, To: cfg.EndDate, Basis: ledger.BasisBudget}, fx.MethodAverage)
		if err != nil {
			return ProfitAndLoss{}, err
		}
		if budget == nil {
			budget = []AccountBalance{}
		}
	}
	out := BuildProfitAndLoss(s.header(KindProfitAndLoss, cfg), actual, previous, budget)
	out.Summary.Performance.DataFreshness, err = s.freshness(ctx, cfg.OrgID, cfg.StartDate, cfg.EndDate)
	return out, err
}

func (s *Service) computeBalanceSheet(ctx context.Context, op string, cfg Config) (BalanceSheet, error) {
	balances, err := s.balances(ctx, op, cfg, ledger.ActivityQuery{To: cfg.EndDate}, fx.MethodClosing)
	if err != nil {
		return BalanceSheet{}, err
	}
	out := BuildBalanceSheet(s.header(KindBalanceSheet, cfg), balances, cfg.IncludeRatios)
	out.Summary.Performance.DataFreshness, err = s.freshness(ctx, cfg.OrgID, time.Time{}, cfg.EndDate)
	return out, err
}

// PreviousPeriod returns the equal-length window ending the day before start.
func PreviousPeriod(start, end time.Time) (time.Time, time.Time) {
	days := int(end.Sub(start).Hours()/24) + 1
	to := start.AddDate(0, 0, -1)
	return to.AddDate(0, 0, -(days - 1)), to
}

// balances loads the taxonomy and activity for q and converts it into cfg.Currency.
func (s *Service) balances(ctx context.Context, op string, cfg Config, q ledger.ActivityQuery, method fx.Method) ([]AccountBalance, error) {
	tax, err := retry(ctx, s.retryInitial, func() (*Taxonomy, error) {
		return s.taxonomy(ctx, cfg.OrgID)
	})
	if err != nil {
		return nil, err
	}
	rows, err := retry(ctx, s.retryInitial, func() ([]ledger.ActivityRow, error) {
		return s.ledger.Activity(ctx, cfg.OrgID, q)
	})
	if err != nil {
		return nil, err
	}
	currencies := make([]string, 0, len(rows))
	for _, row := range rows {
		currencies = append(currencies, row.Currency)
	}
	type prepared struct {
		conv *fx.Converter
		gaps []fx.Gap
	}
	p, err := retry(ctx, s.retryInitial, func() (prepared, error) {
		conv, gaps, err := fx.Prepare(ctx, s.rates, cfg.OrgID, fx.DefaultPolicy(cfg.Currency), cfg.EndDate, currencies, method)
		return prepared{conv: conv, gaps: gaps}, err
	})
	if err != nil {
		return nil, err
	}
	if len(p.gaps) > 0 {
		missing := make([]string, 0, len(p.gaps))
		for _, gap := range p.gaps {
			missing = append(missing, gap.String())
		}
		return nil, shared.Validation(op, "missing FX rates: "+strings.Join(missing, ", "))
	}
	return aggregate(tax, rows, p.conv, balanceOptions{
		Currency:     cfg.Currency,
		Method:       method,
		SubAccounts:  cfg.IncludeSubAccounts,
		ZeroBalances: cfg.IncludeZeroBalances,
		Account:      cfg.AccountFilter,
		CostCenter:   cfg.CostCenterFilter,
	})
}

// taxonomy loads every ACCOUNT entity, active or not, with its attributes and parents.
func (s *Service) taxonomy(ctx context.Context, orgID uuid.UUID) (*Taxonomy, error) {
	var all []entities.Entity
	for offset := 0; ; offset += shared.MaxPageSize {
		page, err := s.accounts.ListEntities(ctx, orgID, entities.TypeAccount, entities.ListFilter{Limit: shared.MaxPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < shared.MaxPageSize {
			break
		}
	}
	ids := make([]uuid.UUID, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	attrs := map[uuid.UUID]map[string]entities.Value{}
	if len(ids) > 0 {
		var err error
		attrs, err = s.accounts.AttributesFor(ctx, orgID, ids)
		if err != nil {
			return nil, err
		}
	}
	accounts := make([]Account, 0, len(all))
	for _, e := range all {
		accounts = append(accounts, AccountFromEntity(e, attrs[e.ID], s.registry))
	}
	var edges []Edge
	if s.hierarchy != nil {
		rels, err := s.hierarchy.Edges(ctx, orgID, relationships.TypeAccountParent)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			edges = append(edges, Edge{Parent: rel.FromID, Child: rel.ToID})
		}
	}
	return NewTaxonomy(accounts, edges), nil
}

func (s *Service) freshness(ctx context.Context, orgID uuid.UUID, from, to time.Time) (time.Time, error) {
	type latest struct {
		at time.Time
		ok bool
	}
	l, err := retry(ctx, s.retryInitial, func() (latest, error) {
		at, ok, err := s.ledger.LatestPostedAt(ctx, orgID, from, to)
		return latest{at: at, ok: ok}, err
	})
	if err != nil {
		return time.Time{}, err
	}
	if !l.ok {
		return s.now(), nil
	}
	return l.at.UTC(), nil
}

// prepare validates cfg, resolves the reporting currency and runs the fiscal guard.
func (s *Service) prepare(ctx context.Context, op string, kind Kind, cfg Config) (Config, error) {
	if err := shared.EnsureTenant(ctx, op, cfg.OrgID); err != nil {
		return Config{}, err
	}
	if err := s.validate.Struct(cfg); err != nil {
		return Config{}, shared.Wrap(shared.KindValidation, op, err)
	}
	if cfg.EndDate.IsZero() {
		return Config{}, shared.Validation(op, "end_date is required")
	}
	cfg.EndDate = shared.DateOnly(cfg.EndDate)
	if !cfg.StartDate.IsZero() {
		cfg.StartDate = shared.DateOnly(cfg.StartDate)
	}
	switch {
	case kind == KindBalanceSheet:
		cfg.StartDate = time.Time{}
	case cfg.StartDate.IsZero():
		return Config{}, shared.Validation(op, "start_date is required")
	case cfg.StartDate.After(cfg.EndDate):
		return Config{}, shared.Validation(op, "start_date must not be after end_date")
	}
	cfg.AccountFilter = strings.TrimSpace(cfg.AccountFilter)
	cfg.CostCenterFilter = strings.TrimSpace(cfg.CostCenterFilter)

	currency := cfg.Currency
	if currency == "" && s.currencies != nil {
		base, err := s.currencies.BaseCurrency(ctx, cfg.OrgID)
		if err != nil {
			return Config{}, shared.WrapOp(op, err)
		}
		currency = base
	}
	if currency == "" {
		return Config{}, shared.Validation(op, "currency is required")
	}
	code, err := money.ParseCurrency(currency)
	if err != nil {
		return Config{}, shared.Validation(op, err.Error())
	}
	cfg.Currency = code

	if s.guard != nil {
		start := cfg.StartDate
		if start.IsZero() {
			start = cfg.EndDate
		}
		if err := s.guard.EnsureReadable(ctx, cfg.OrgID, start, cfg.EndDate); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (s *Service) key(kind Kind, cfg Config) reportcache.Key {
	return reportcache.Key{
		OrgID:    cfg.OrgID,
		Report:   string(kind),
		Start:    cfg.StartDate,
		End:      cfg.EndDate,
		Currency: cfg.Currency,
		Filters:  cfg.filters(),
	}
}

func (s *Service) header(kind Kind, cfg Config) Header {
	return Header{
		Report:      kind,
		Title:       kind.Title(),
		OrgID:       cfg.OrgID,
		StartDate:   cfg.StartDate,
		EndDate:     cfg.EndDate,
		Currency:    cfg.Currency,
		GeneratedAt: s.now(),
	}
}

// finish stamps the performance block of a served report.
func (s *Service) finish(ctx context.Context, kind Kind, cfg Config, started time.Time, hit bool, perf *PerformanceMetrics) {
	elapsed := time.Since(started)
	tier := ClassifyTier(elapsed)
	perf.ProcessingTimeMS = elapsed.Milliseconds()
	perf.CacheHit = hit
	perf.Tier = tier
	if !hit {
		s.cache.Metrics().ObserveCompute(string(kind), string(tier), elapsed)
	}
	if tier != TierEnterprise {
		s.logger.InfoContext(ctx, "report slower than enterprise tier",
			slog.String("report", string(kind)),
			slog.String("org_id", cfg.OrgID.String()),
			slog.String("tier", string(tier)),
			slog.Int64("processing_time_ms", perf.ProcessingTimeMS),
			slog.Bool("cache_hit", hit))
	}
}

// fail wraps a computation failure with the report name. Caller-facing rejections
// keep their own message.
func (s *Service) fail(op string, kind Kind, err error) error {
	switch shared.KindOf(err) {
	case shared.KindValidation, shared.KindFiscalPeriod, shared.KindTenant:
		return err
	}
	code := shared.KindOf(err)
	if code == shared.KindInternal {
		code = shared.KindBackend
	}
	return &shared.Error{
		Kind:    code,
		Op:      op,
		Message: fmt.Sprintf("%s generation failed: %v", kind.Title(), err),
		Err:     err,
	}
}

func retry[T any](ctx context.Context, initial time.Duration, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !shared.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(readAttempts))
}
