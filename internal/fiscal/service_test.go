package fiscal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func date(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func newService(t *testing.T, opts Options) (*Service, *shared.MemoryAuditLog, uuid.UUID, context.Context) {
	t.Helper()
	audit := shared.NewMemoryAuditLog()
	org := uuid.New()
	return NewService(NewMemoryRepository(), nil, audit, nil, opts), audit, org, shared.WithTenant(context.Background(), org)
}

func TestPeriodLifecycle(t *testing.T) {
	svc, audit, org, ctx := newService(t, Options{})

	jan, err := svc.CreatePeriod(ctx, CreatePeriodInput{OrgID: org, Name: "Jan 2025", StartDate: date(1, 1), EndDate: date(1, 31)})
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusOpen, jan.Status)

	_, err = svc.Close(ctx, org, jan.ID)
	assert.True(t, shared.IsKind(err, shared.KindValidation), "OPEN cannot jump to CLOSED")

	closing, err := svc.BeginClose(ctx, org, jan.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusClosing, closing.Status)

	reopened, err := svc.Reopen(ctx, org, jan.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusOpen, reopened.Status)

	_, err = svc.BeginClose(ctx, org, jan.ID)
	require.NoError(t, err)
	closed, err := svc.Close(ctx, org, jan.ID)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	_, err = svc.Reopen(ctx, org, jan.ID)
	assert.True(t, shared.IsKind(err, shared.KindValidation), "CLOSED is terminal")

	assert.Len(t, audit.Entries(org), 5)
}

func TestCreatePeriodRejectsOverlap(t *testing.T) {
	svc, _, org, ctx := newService(t, Options{})
	_, err := svc.CreatePeriod(ctx, CreatePeriodInput{OrgID: org, Name: "Q1", StartDate: date(1, 1), EndDate: date(3, 31)})
	require.NoError(t, err)

	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{OrgID: org, Name: "Mar", StartDate: date(3, 1), EndDate: date(3, 31)})
	assert.True(t, shared.IsKind(err, shared.KindConflict))

	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{OrgID: org, Name: "bad", StartDate: date(5, 1), EndDate: date(4, 1)})
	assert.True(t, shared.IsKind(err, shared.KindValidation))

	periods, err := svc.ListPeriods(ctx, org, 0, 0)
	require.NoError(t, err)
	assert.Len(t, periods, 1)
}

func TestValidatePeriod(t *testing.T) {
	svc, _, org, ctx := newService(t, Options{})
	jan, err := svc.CreatePeriod(ctx, CreatePeriodInput{OrgID: org, Name: "Jan", StartDate: date(1, 1), EndDate: date(1, 31)})
	require.NoError(t, err)
	feb, err := svc.CreatePeriod(ctx, CreatePeriodInput{OrgID: org, Name: "Feb", StartDate: date(2, 1), EndDate: date(2, 28)})
	require.NoError(t, err)

	res, err := svc.ValidatePeriod(ctx, org, date(1, 15))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Warnings)

	_, err = svc.BeginClose(ctx, org, feb.ID)
	require.NoError(t, err)
	res, err = svc.ValidatePeriod(ctx, org, date(2, 10))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 1)

	_, err = svc.BeginClose(ctx, org, jan.ID)
	require.NoError(t, err)
	_, err = svc.Close(ctx, org, jan.ID)
	require.NoError(t, err)

	res, err = svc.ValidatePeriod(ctx, org, date(1, 31).Add(15*time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0], "CLOSED")

	err = svc.EnsureWritable(ctx, org, date(1, 5))
	assert.True(t, shared.IsKind(err, shared.KindFiscalPeriod))

	err = svc.EnsureReadable(ctx, org, date(12, 1).AddDate(-1, 0, 0), date(1, 10))
	assert.True(t, shared.IsKind(err, shared.KindFiscalPeriod))

	res, err = svc.ValidateRange(ctx, org, date(2, 1), date(2, 20))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Len(t, res.Periods, 1)
}

func TestUndefinedPeriodPolicy(t *testing.T) {
	lenient, _, org, ctx := newService(t, Options{})
	res, err := lenient.ValidatePeriod(ctx, org, date(6, 1))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 1)

	strict, _, org2, ctx2 := newService(t, Options{RequireDefinedPeriod: true})
	res, err = strict.ValidatePeriod(ctx2, org2, date(6, 1))
	require.NoError(t, err)
	assert.False(t, res.Passed)

	_, err = strict.ValidatePeriod(ctx, org2, date(6, 1))
	assert.True(t, shared.IsKind(err, shared.KindTenant))
}

func TestValidateRangeCatchesClosedPeriodInside(t *testing.T) {
	svc, _, org, ctx := newService(t, Options{})
	var feb Period
	for _, m := range []time.Month{1, 2, 3} {
		p, err := svc.CreatePeriod(ctx, CreatePeriodInput{
			OrgID: org, Name: m.String(), StartDate: date(m, 1), EndDate: date(m+1, 1).AddDate(0, 0, -1),
		})
		require.NoError(t, err)
		if m == 2 {
			feb = p
		}
	}
	_, err := svc.BeginClose(ctx, org, feb.ID)
	require.NoError(t, err)

	res, err := svc.ValidateRange(ctx, org, date(1, 10), date(3, 20))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Len(t, res.Warnings, 1, "a CLOSING period inside the range warns")
	assert.Len(t, res.Periods, 3)

	_, err = svc.Close(ctx, org, feb.ID)
	require.NoError(t, err)
	res, err = svc.ValidateRange(ctx, org, date(1, 10), date(3, 20))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0], "February")

	err = svc.EnsureReadable(ctx, org, date(1, 10), date(3, 20))
	assert.True(t, shared.IsKind(err, shared.KindFiscalPeriod))

	res, err = svc.ValidateRange(ctx, org, date(3, 1), date(3, 20))
	require.NoError(t, err)
	assert.True(t, res.Passed)
}
