package orgs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestCreateAndGet(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	org, err := svc.Create(context.Background(), CreateInput{Name: "Hair Talkz", BaseCurrency: "aed"})
	require.NoError(t, err)
	assert.Equal(t, "AED", org.BaseCurrency)

	ctx := shared.WithTenant(context.Background(), org.ID)
	got, err := svc.Get(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.Name, got.Name)

	ccy, err := svc.BaseCurrency(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "AED", ccy)
}

func TestGetRejectsForeignTenant(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	org, err := svc.Create(context.Background(), CreateInput{Name: "A", BaseCurrency: "USD"})
	require.NoError(t, err)

	ctx := shared.WithTenant(context.Background(), uuid.New())
	_, err = svc.Get(ctx, org.ID)
	assert.True(t, shared.IsKind(err, shared.KindTenant))
}

func TestCreateValidates(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	_, err := svc.Create(context.Background(), CreateInput{Name: "", BaseCurrency: "USD"})
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	_, err = svc.Create(context.Background(), CreateInput{Name: "B", BaseCurrency: "ZZ9"})
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}
