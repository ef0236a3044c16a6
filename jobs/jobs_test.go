package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/fiscal"
	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/orgs"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/relationships"
	"github.com/odyssey-erp/odyssey-ledger/internal/reportcache"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

type stack struct {
	orgs       *orgs.Service
	ledgerRepo *ledger.MemoryRepository
	ledger     *ledger.Service
	entities   *entities.Service
	fiscal     *fiscal.Service
	posting    *posting.Service
	reports    *reports.Service
	cache      *reportcache.Cache
	store      *reportcache.MemoryStore
	metrics    *jobmetrics.Metrics
}

func newStack(t *testing.T) stack {
	t.Helper()
	orgSvc := orgs.NewService(orgs.NewMemoryRepository())
	ledgerRepo := ledger.NewMemoryRepository()
	ledgerSvc := ledger.NewService(ledgerRepo)
	ents := entities.NewService(entities.NewMemoryRepository(), nil, nil)
	rels := relationships.NewService(relationships.NewMemoryRepository(), ents, nil, nil, nil)
	periods := fiscal.NewService(fiscal.NewMemoryRepository(), nil, nil, nil, fiscal.Options{})
	store := reportcache.NewMemoryStore()
	cache := reportcache.New(store, time.Minute, nil, nil)
	return stack{
		orgs:       orgSvc,
		ledgerRepo: ledgerRepo,
		ledger:     ledgerSvc,
		entities:   ents,
		fiscal:     periods,
		posting: posting.NewService(posting.Dependencies{
			Repo: ledgerRepo, Guard: periods, Entities: ents, Invalidator: cache,
		}),
		reports: reports.NewService(reports.Dependencies{
			Ledger: ledgerSvc, Accounts: ents, Hierarchy: rels, Guard: periods,
			Rates: fx.NewMemoryStore(), Currencies: orgSvc, Cache: cache,
		}),
		cache:   cache,
		store:   store,
		metrics: jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func (s stack) org(t *testing.T, name string) (uuid.UUID, context.Context) {
	t.Helper()
	org, err := s.orgs.Create(context.Background(), orgs.CreateInput{Name: name, BaseCurrency: "USD"})
	require.NoError(t, err)
	return org.ID, shared.WithTenant(context.Background(), org.ID)
}

func (s stack) account(t *testing.T, ctx context.Context, org uuid.UUID, code, smart string) uuid.UUID {
	t.Helper()
	e, err := s.entities.CreateEntity(ctx, entities.CreateEntityInput{OrgID: org, Type: entities.TypeAccount, Code: code, Name: code, SmartCode: smart})
	require.NoError(t, err)
	return e.ID
}

func TestReportsWarmupFillsCache(t *testing.T) {
	s := newStack(t)
	withPeriods, ctx := s.org(t, "With periods")
	bare, _ := s.org(t, "Bare")

	jan, err := s.fiscal.CreatePeriod(ctx, fiscal.CreatePeriodInput{
		OrgID: withPeriods, Name: "2025-01",
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = s.fiscal.CreatePeriod(ctx, fiscal.CreatePeriodInput{
		OrgID: withPeriods, Name: "2025-02",
		StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = s.fiscal.BeginClose(ctx, withPeriods, jan.ID)
	require.NoError(t, err)

	job := NewReportsWarmupJob(s.orgs, s.fiscal, s.reports, nil, s.metrics)
	job.clock = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	warmed, err := job.Run(context.Background(), WarmupPayload{})
	require.NoError(t, err)
	assert.Equal(t, 2, warmed)
	assert.Equal(t, 1, s.store.Len(withPeriods), "only the open February period is warmed")
	assert.Equal(t, 1, s.store.Len(bare), "orgs without periods warm month-to-date")

	require.NoError(t, s.cache.Invalidate(ctx, withPeriods))
	warmed, err = job.Run(context.Background(), WarmupPayload{OrgID: &withPeriods})
	require.NoError(t, err)
	assert.Equal(t, 1, warmed)
}

func TestLedgerIntegrityScan(t *testing.T) {
	s := newStack(t)
	org, ctx := s.org(t, "Salon")
	cash := s.account(t, ctx, org, "1000", "SALON.FIN.GL.ASSET.CASH.v1")
	revenue := s.account(t, ctx, org, "4000", "SALON.FIN.GL.REVENUE.SERVICE.v1")

	_, err := s.posting.Post(ctx, posting.PostInput{
		OrgID: org, Type: "JOURNAL", Date: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), Currency: "USD",
		IsLedger: true, SmartCode: "SALON.FIN.GL.JOURNAL.v1",
		Lines: []posting.LineInput{
			{AccountID: &cash, Amount: decimal.NewFromInt(80), SmartCode: "SALON.FIN.GL.LINE.DEBIT.v1"},
			{AccountID: &revenue, Amount: decimal.NewFromInt(80), SmartCode: "SALON.FIN.GL.LINE.CREDIT.v1"},
		},
	})
	require.NoError(t, err)

	job := NewLedgerIntegrityJob(s.orgs, s.ledger, nil, s.metrics)
	results, err := job.Run(context.Background(), IntegrityPayload{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Scanned)
	assert.Empty(t, results[0].Findings)

	// Corrupt rows written around the posting engine.
	at := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	unbalanced := uuid.New()
	orphan := uuid.New()
	err = s.ledgerRepo.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		for _, h := range []ledger.Header{
			{ID: unbalanced, OrgID: org, Type: ledger.TypeJournal, Date: at, Currency: "USD", IsLedger: true,
				Status: ledger.StatusPosted, SmartCode: smartcode.MustParse("SALON.FIN.GL.JOURNAL.v1"), CreatedAt: at, PostedAt: &at},
			{ID: orphan, OrgID: org, Type: ledger.TypeGLPosting, Date: at, Currency: "USD", IsLedger: true,
				References: []uuid.UUID{uuid.New()}, Status: ledger.StatusPosted,
				SmartCode: smartcode.MustParse("SALON.FIN.GL.POSTING.v1"), CreatedAt: at, PostedAt: &at},
		} {
			if err := tx.InsertHeader(ctx, h); err != nil {
				return err
			}
		}
		return tx.InsertLines(ctx, []ledger.Line{
			{TransactionID: unbalanced, OrgID: org, LineNumber: 1, Type: smartcode.RoleLedger, AccountID: &cash, Side: smartcode.Debit, Amount: decimal.NewFromInt(50)},
			{TransactionID: unbalanced, OrgID: org, LineNumber: 2, Type: smartcode.RoleLedger, AccountID: &revenue, Side: smartcode.Credit, Amount: decimal.NewFromInt(45)},
		})
	})
	require.NoError(t, err)

	report, err := job.Scan(context.Background(), org, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	kinds := map[uuid.UUID]string{}
	for _, f := range report.Findings {
		kinds[f.TransactionID] = f.Kind
	}
	assert.Equal(t, map[uuid.UUID]string{unbalanced: FindingUnbalanced, orphan: FindingBrokenChain}, kinds)
}

func TestInvalidateJob(t *testing.T) {
	s := newStack(t)
	org, ctx := s.org(t, "Salon")
	_, err := s.reports.TrialBalance(ctx, reports.Config{
		OrgID: org, StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, 1, s.store.Len(org))

	task, err := NewInvalidateTask(InvalidatePayload{OrgID: org})
	require.NoError(t, err)
	job := &InvalidateJob{Cache: s.cache, Metrics: s.metrics}
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 0, s.store.Len(org))

	_, err = NewInvalidateTask(InvalidatePayload{})
	require.Error(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(TaskReportsInvalidate, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, QueueDefault, body.Queue)
	assert.Zero(t, body.Pending)
}

func TestTaskConstructors(t *testing.T) {
	org := uuid.New()
	task, err := NewIntegrityTask(IntegrityPayload{OrgID: &org})
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerIntegrity, task.Type())

	var decoded IntegrityPayload
	require.NoError(t, decode(task, &decoded))
	require.NotNil(t, decoded.OrgID)
	assert.Equal(t, org, *decoded.OrgID)

	task, err = NewWarmupTask(WarmupPayload{})
	require.NoError(t, err)
	assert.Equal(t, TaskReportsWarmup, task.Type())
}
