package entities

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const accountCode = "ACME.FIN.GL.ASSET.CASH.v1"

func newTestService(t *testing.T) (*Service, *shared.MemoryAuditLog, uuid.UUID, context.Context) {
	t.Helper()
	audit := shared.NewMemoryAuditLog()
	svc := NewService(NewMemoryRepository(), audit, nil)
	org := uuid.New()
	return svc, audit, org, shared.WithTenant(context.Background(), org)
}

func TestCreateEntityAndLookupByCode(t *testing.T) {
	svc, audit, org, ctx := newTestService(t)

	created, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "account", Name: "Cash", Code: "1000", SmartCode: accountCode})
	require.NoError(t, err)
	assert.Equal(t, TypeAccount, created.Type)
	assert.Equal(t, StatusActive, created.Status)

	got, err := svc.GetEntity(ctx, org, "ACCOUNT", "1000")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, audit.Entries(org), 1)

	_, err = svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "ACCOUNT", Name: "Cash again", Code: "1000", SmartCode: accountCode})
	assert.True(t, shared.IsKind(err, shared.KindConflict))

	_, err = svc.GetEntity(ctx, org, "ACCOUNT", "9999")
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestCreateEntityGeneratesCodeAndValidatesSmartCode(t *testing.T) {
	svc, _, org, ctx := newTestService(t)

	created, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "customer", Name: "Jane", SmartCode: "ACME.CRM.CUSTOMER.v1"})
	require.NoError(t, err)
	assert.Regexp(t, `^CUSTOMER-[0-9A-F]{8}$`, created.Code)

	_, err = svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "customer", Name: "Bad", SmartCode: "acme.crm"})
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestTenantViolation(t *testing.T) {
	svc, _, org, ctx := newTestService(t)
	created, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "ACCOUNT", Name: "Cash", Code: "1000", SmartCode: accountCode})
	require.NoError(t, err)

	other := uuid.New()
	_, err = svc.CreateEntity(ctx, CreateEntityInput{OrgID: other, Type: "ACCOUNT", Name: "X", SmartCode: accountCode})
	assert.True(t, shared.IsKind(err, shared.KindTenant))

	otherCtx := shared.WithTenant(context.Background(), other)
	_, err = svc.GetEntityByID(otherCtx, other, created.ID)
	assert.True(t, shared.IsKind(err, shared.KindNotFound), "foreign ids must look absent, got %v", err)

	list, err := svc.ListEntities(otherCtx, other, "", ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetAttributeEnforcesDeclaredType(t *testing.T) {
	svc, _, org, ctx := newTestService(t)
	entity, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "PRODUCT", Name: "Shampoo", Code: "P-1", SmartCode: "ACME.INV.PRODUCT.v1"})
	require.NoError(t, err)

	price := decimal.RequireFromString("19.99")
	field, err := svc.SetAttribute(ctx, SetAttributeInput{OrgID: org, EntityID: entity.ID, Name: "Price", Value: Number(price), SmartCode: "ACME.INV.PRODUCT.PRICE.v1"})
	require.NoError(t, err)
	assert.Equal(t, "price", field.Name)

	_, err = svc.SetAttribute(ctx, SetAttributeInput{OrgID: org, EntityID: entity.ID, Name: "price", Value: Text("cheap"), SmartCode: "ACME.INV.PRODUCT.PRICE.v1"})
	assert.True(t, shared.IsKind(err, shared.KindTypeConflict))

	other, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "PRODUCT", Name: "Gel", Code: "P-2", SmartCode: "ACME.INV.PRODUCT.v1"})
	require.NoError(t, err)
	_, err = svc.SetAttribute(ctx, SetAttributeInput{OrgID: org, EntityID: other.ID, Name: "price", Value: Date(time.Now()), SmartCode: "ACME.INV.PRODUCT.PRICE.v1"})
	assert.True(t, shared.IsKind(err, shared.KindTypeConflict), "type is fixed per field name across the org")

	_, err = svc.SetAttribute(ctx, SetAttributeInput{OrgID: org, EntityID: entity.ID, Name: "price", Value: Number(decimal.NewFromInt(25)), SmartCode: "ACME.INV.PRODUCT.PRICE.v1"})
	require.NoError(t, err)
	fields, err := svc.GetAttributes(ctx, org, entity.ID)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.True(t, fields[0].Value.Number.Equal(decimal.NewFromInt(25)))
}

func TestSetAttributeConcurrentFirstDeclarationsAgree(t *testing.T) {
	svc, _, org, ctx := newTestService(t)
	entity, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "PRODUCT", Name: "Shampoo", Code: "P-1", SmartCode: "ACME.INV.PRODUCT.v1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	values := []Value{Number(decimal.NewFromInt(1)), Text("one")}
	for i := range values {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.SetAttribute(ctx, SetAttributeInput{OrgID: org, EntityID: entity.ID, Name: "size", Value: values[i], SmartCode: "ACME.INV.PRODUCT.SIZE.v1"})
		}(i)
	}
	wg.Wait()
	failures := 0
	for _, err := range results {
		if err != nil {
			assert.True(t, shared.IsKind(err, shared.KindTypeConflict))
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestSetStatusIsLogicalDelete(t *testing.T) {
	svc, audit, org, ctx := newTestService(t)
	entity, err := svc.CreateEntity(ctx, CreateEntityInput{OrgID: org, Type: "CUSTOMER", Name: "Jane", Code: "C-1", SmartCode: "ACME.CRM.CUSTOMER.v1"})
	require.NoError(t, err)

	archived, err := svc.SetStatus(ctx, org, entity.ID, StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	still, err := svc.GetEntityByID(ctx, org, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, still.Status)

	active, err := svc.ListEntities(ctx, org, "CUSTOMER", ListFilter{Status: StatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.SetAttribute(ctx, SetAttributeInput{OrgID: org, EntityID: entity.ID, Name: "email", Value: Text("x@y"), SmartCode: "ACME.CRM.CUSTOMER.EMAIL.v1"})
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	assert.Len(t, audit.Entries(org), 2)
}

func TestListEntitiesFilters(t *testing.T) {
	svc, _, org, ctx := newTestService(t)
	for _, in := range []CreateEntityInput{
		{OrgID: org, Type: "ACCOUNT", Name: "Cash", Code: "1000", SmartCode: "ACME.FIN.GL.ASSET.CASH.v1"},
		{OrgID: org, Type: "ACCOUNT", Name: "Bank", Code: "1010", SmartCode: "ACME.FIN.GL.ASSET.CASH.v1"},
		{OrgID: org, Type: "ACCOUNT", Name: "Revenue", Code: "4000", SmartCode: "ACME.FIN.GL.REVENUE.v1"},
	} {
		_, err := svc.CreateEntity(ctx, in)
		require.NoError(t, err)
	}
	list, err := svc.ListEntities(ctx, org, "ACCOUNT", ListFilter{CodePrefix: "10"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "1000", list[0].Code)

	list, err = svc.ListEntities(ctx, org, "ACCOUNT", ListFilter{SmartCodePrefix: "ACME.FIN.GL.REVENUE"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "4000", list[0].Code)

	list, err = svc.ListEntities(ctx, org, "ACCOUNT", ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1010", list[0].Code)
}

func TestValueJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"number","value":"12.50"}`)
	var v Value
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, ValueNumber, v.Type)
	assert.True(t, v.Number.Equal(decimal.RequireFromString("12.5")))

	require.NoError(t, json.Unmarshal([]byte(`{"type":"date","value":"2024-03-01"}`), &v))
	assert.Equal(t, "2024-03-01", v.AsString())

	var bad Value
	assert.Error(t, json.Unmarshal([]byte(`{"type":"money","value":1}`), &bad))
	assert.True(t, Text("yes").AsBool())
	assert.True(t, JSON(json.RawMessage(`true`)).AsBool())
}
