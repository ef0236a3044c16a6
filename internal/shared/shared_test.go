package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestEnsureTenant(t *testing.T) {
	org := uuid.New()
	ctx := WithTenant(context.Background(), org)

	if err := EnsureTenant(ctx, "test", org); err != nil {
		t.Fatalf("expected matching tenant to pass, got %v", err)
	}
	if err := EnsureTenant(ctx, "test", uuid.New()); !IsKind(err, KindTenant) {
		t.Fatalf("expected tenant violation for foreign org, got %v", err)
	}
	if err := EnsureTenant(ctx, "test", uuid.Nil); !IsKind(err, KindTenant) {
		t.Fatalf("expected tenant violation for missing org, got %v", err)
	}
	if err := EnsureTenant(context.Background(), "test", org); !IsKind(err, KindTenant) {
		t.Fatalf("expected tenant violation without caller context, got %v", err)
	}
}

func TestWrapOpKeepsKindAndMessage(t *testing.T) {
	cause := NotFound("entities.get", "entity")
	err := WrapOp("Trial balance generation failed", cause)
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected NOT_FOUND kind, got %s", KindOf(err))
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound")
	}
	want := "Trial balance generation failed: entities.get: entity not found"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}

	backend := WrapOp("Balance sheet generation failed", errors.New("connection reset"))
	if KindOf(backend) != KindBackend {
		t.Fatalf("expected backend failure, got %s", KindOf(backend))
	}
	if !IsRetryable(backend) {
		t.Fatalf("expected backend failure to be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", Validation("op", "bad"), false},
		{"transient", NewError(KindTransient, "op", "timeout"), true},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"fiscal", FiscalViolation("op", []string{"closed"}), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestValidatePeriodTransition(t *testing.T) {
	allowed := [][2]string{
		{PeriodStatusOpen, PeriodStatusClosing},
		{PeriodStatusClosing, PeriodStatusClosed},
		{PeriodStatusClosing, PeriodStatusOpen},
	}
	for _, tr := range allowed {
		if err := ValidatePeriodTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("expected %s -> %s allowed", tr[0], tr[1])
		}
	}
	denied := [][2]string{
		{PeriodStatusOpen, PeriodStatusClosed},
		{PeriodStatusClosed, PeriodStatusOpen},
		{PeriodStatusClosed, PeriodStatusClosing},
	}
	for _, tr := range denied {
		if err := ValidatePeriodTransition(tr[0], tr[1]); !errors.Is(err, ErrInvalidPeriodTransition) {
			t.Fatalf("expected %s -> %s denied", tr[0], tr[1])
		}
	}
}

func TestNewPageClamps(t *testing.T) {
	p := NewPage(0, -5)
	if p.Limit != DefaultPageSize || p.Offset != 0 {
		t.Fatalf("unexpected page %+v", p)
	}
	p = NewPage(5000, 10)
	if p.Limit != MaxPageSize {
		t.Fatalf("expected limit clamp, got %d", p.Limit)
	}
	start, end := NewPage(2, 3).Slice(4)
	if start != 3 || end != 4 {
		t.Fatalf("unexpected slice %d:%d", start, end)
	}
}
