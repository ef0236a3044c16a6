package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func seededRates(t *testing.T, org uuid.UUID) *fx.MemoryStore {
	t.Helper()
	store := fx.NewMemoryStore()
	err := store.Upsert(context.Background(), org, "USD", "IDR", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), fx.Quote{
		Average: decimal.NewFromInt(15500),
		Closing: decimal.NewFromInt(15450),
	})
	require.NoError(t, err)
	return store
}

func TestValidateCommandJSONSuccess(t *testing.T) {
	org := uuid.New()
	cli, err := NewFXOpsCLI(seededRates(t, org))
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), FXValidateOptions{
		OrgID:      org.String(),
		Period:     "2024-01",
		Pairs:      []string{"usdidr"},
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary FXValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, "2024-01-31", summary.AsOf)
	require.Empty(t, summary.Gaps)
	require.Len(t, summary.AvailableQuotes, 2)
}

func TestValidateCommandJSONGaps(t *testing.T) {
	org := uuid.New()
	cli, err := NewFXOpsCLI(seededRates(t, uuid.New()))
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), FXValidateOptions{
		OrgID:      org.String(),
		Period:     "2024-01",
		Pairs:      []string{"USDIDR"},
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 10, exitCode, "rates of another organization must not count")
	require.Empty(t, stderr.String())

	var summary FXValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Gaps, 2)
}

func TestValidateCommandInvalidPeriod(t *testing.T) {
	org := uuid.New()
	cli, err := NewFXOpsCLI(fx.NewMemoryStore())
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), FXValidateOptions{
		OrgID:  org.String(),
		Period: "202401",
		Pairs:  []string{"USDIDR"},
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid period")
}

func TestBackfillDryRunThenApply(t *testing.T) {
	org := uuid.New()
	store := fx.NewMemoryStore()
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)
	source := "period,pair,average,closing\n# feed export\n2024-02,EURUSD,1.08,1.09\n2024-03,eurusd,1.085,1.07\n2024-03,GBPUSD,1.2,1.3\n"

	stdout := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), FXBackfillOptions{
		OrgID: org.String(), Pair: "EURUSD", From: "2024-02", To: "2024-03",
		SourceReader: strings.NewReader(source), JSONOutput: true,
		Stdout: stdout, Stderr: new(bytes.Buffer),
	})
	require.Equal(t, 10, exitCode)
	var summary FXBackfillSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, 2, summary.Gaps)
	require.Len(t, summary.Months, 2)
	for _, m := range summary.Months {
		require.NotNil(t, m.Source, m.Period)
		require.False(t, m.Applied)
	}

	stdout.Reset()
	stderr := new(bytes.Buffer)
	exitCode = cli.BackfillCommand(context.Background(), FXBackfillOptions{
		OrgID: org.String(), Pair: "EURUSD", From: "2024-02", To: "2024-03", Mode: FXBackfillModeApply,
		SourceReader: strings.NewReader(source), Stdout: stdout, Stderr: stderr,
	})
	require.Zero(t, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "2024-03")

	quote, ok, err := store.QuoteForPeriod(context.Background(), org, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), "EURUSD")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, quote.Closing.Equal(decimal.RequireFromString("1.07")))

	exitCode = cli.BackfillCommand(context.Background(), FXBackfillOptions{
		OrgID: org.String(), Pair: "EURUSD", From: "2024-02", To: "2024-03",
		Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer),
	})
	require.Zero(t, exitCode, "no gaps remain after apply")
}

func TestBackfillApplyNeedsEveryMissingMonth(t *testing.T) {
	org := uuid.New()
	store := fx.NewMemoryStore()
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), FXBackfillOptions{
		OrgID: org.String(), Pair: "EURUSD", From: "2024-02", To: "2024-03", Mode: FXBackfillModeApply,
		SourceReader: strings.NewReader("2024-02,EURUSD,1.08,1.09\n"),
		Stdout:       new(bytes.Buffer), Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "2024-03")

	_, ok, err := store.QuoteForPeriod(context.Background(), org, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), "EURUSD")
	require.NoError(t, err)
	require.False(t, ok, "nothing is written when the source is incomplete")
}

func TestTaskFor(t *testing.T) {
	org := uuid.New()
	task, err := TaskFor(jobs.TaskReportsInvalidate, &org)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskReportsInvalidate, task.Type())

	_, err = TaskFor(jobs.TaskReportsInvalidate, nil)
	require.Error(t, err)
	_, err = TaskFor("analytics:anomaly_scan", nil)
	require.Error(t, err)
}
