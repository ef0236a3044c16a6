package posting

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/fiscal"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

type saleAccounts struct {
	receivable, services, products, tips, taxPayable uuid.UUID
}

func (f fixture) saleAccounts(t *testing.T) saleAccounts {
	return saleAccounts{
		receivable: f.account(t, "Receivable", "HERA.FIN.GL.ASSET.AR.v1"),
		services:   f.account(t, "Service revenue", "HERA.FIN.GL.REVENUE.SERVICE.v1"),
		products:   f.account(t, "Product revenue", "HERA.FIN.GL.REVENUE.PRODUCT.v1"),
		tips:       f.account(t, "Tips", "HERA.FIN.GL.REVENUE.TIPS.v1"),
		taxPayable: f.account(t, "VAT payable", "HERA.FIN.GL.LIABILITY.TAX.v1"),
	}
}

func salonSale(org uuid.UUID, acc saleAccounts) SaleInput {
	return SaleInput{
		OrgID:               org,
		Number:              "S-1001",
		Date:                day(3, 14),
		Currency:            "USD",
		SmartCode:           "HERA.SALON.SALE.TXN.v1",
		TaxRate:             dec("0.05"),
		ReceivableAccountID: acc.receivable,
		TaxPayableAccountID: &acc.taxPayable,
		IdempotencyKey:      "pos-1001",
		Items: []SaleItem{
			{RevenueAccountID: acc.services, Quantity: dec("2"), UnitAmount: dec("275"), Description: "Colour"},
			{RevenueAccountID: acc.products, Amount: dec("120"), Description: "Shampoo"},
			{RevenueAccountID: acc.tips, Amount: dec("67"), Description: "Tip"},
		},
	}
}

func TestPostSaleChain(t *testing.T) {
	f := newFixture(t)
	acc := f.saleAccounts(t)

	result, err := f.svc.PostSale(f.ctx, salonSale(f.org, acc))
	require.NoError(t, err)
	assert.True(t, result.Subtotal.Equal(dec("737")))
	assert.True(t, result.Tax.Equal(dec("36.85")))
	assert.True(t, result.Total.Equal(dec("773.85")))
	require.NotNil(t, result.TaxCollectionID)

	sale, err := f.repo.Get(f.ctx, f.org, result.SaleID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeSale, sale.Type)
	assert.False(t, sale.IsLedger)
	assert.True(t, sale.TotalAmount.Equal(dec("773.85")))
	require.Len(t, sale.Lines, 4)
	assert.True(t, sale.Lines[0].Amount.Equal(dec("550")))
	assert.Equal(t, smartcode.RoleItem, sale.Lines[0].Type)
	assert.Equal(t, smartcode.RoleTax, sale.Lines[3].Type)

	gl, err := f.repo.Get(f.ctx, f.org, result.GLPostingID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{result.SaleID}, gl.References)
	debit, credit := gl.Totals()
	assert.True(t, debit.Equal(dec("773.85")))
	assert.True(t, credit.Equal(dec("773.85")))
	require.Len(t, gl.Lines, 5)
	assert.Equal(t, acc.receivable, *gl.Lines[0].AccountID)
	assert.Equal(t, acc.taxPayable, *gl.Lines[4].AccountID)
	assert.True(t, gl.Lines[4].Amount.Equal(dec("36.85")))

	tax, err := f.repo.Get(f.ctx, f.org, *result.TaxCollectionID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{result.GLPostingID, result.SaleID}, tax.References)
	require.Len(t, tax.Lines, 3)
	for i, want := range []string{"27.50", "6.00", "3.35"} {
		assert.True(t, tax.Lines[i].Amount.Equal(dec(want)), "tax line %d = %s", i+1, tax.Lines[i].Amount)
		assert.Contains(t, tax.Lines[i].UpstreamIDs, result.GLPostingID)
	}
	assert.True(t, tax.TotalAmount.Equal(dec("36.85")))

	deps, err := ledger.NewService(f.repo).Dependents(f.ctx, f.org, result.SaleID)
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestPostSaleResumesWithIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	acc := f.saleAccounts(t)
	in := salonSale(f.org, acc)

	first, err := f.svc.PostSale(f.ctx, in)
	require.NoError(t, err)
	again, err := f.svc.PostSale(f.ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.SaleID, again.SaleID)
	assert.Equal(t, first.GLPostingID, again.GLPostingID)
	assert.Equal(t, *first.TaxCollectionID, *again.TaxCollectionID)

	txs, err := f.repo.List(f.ctx, f.org, ledger.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestPostSaleReportsFailedStep(t *testing.T) {
	f := newFixture(t)
	acc := f.saleAccounts(t)
	in := salonSale(f.org, acc)
	stranger := uuid.New()
	in.ReceivableAccountID = stranger

	_, err := f.svc.PostSale(f.ctx, in)
	require.Error(t, err)
	chainErr, ok := AsChainError(err)
	require.True(t, ok)
	assert.Equal(t, StepGLPosting, chainErr.Step)
	assert.NotEqual(t, uuid.Nil, chainErr.Completed.SaleID)
	assert.Equal(t, shared.KindDataIntegrity, shared.KindOf(err))

	_, err = f.svc.Reverse(f.ctx, ReverseInput{OrgID: f.org, TransactionID: chainErr.Completed.SaleID, Reason: "chain failed"})
	require.NoError(t, err)
}

func TestPostSaleClosedPeriodWritesNothing(t *testing.T) {
	f := newFixture(t)
	acc := f.saleAccounts(t)
	mar, err := f.fiscal.CreatePeriod(f.ctx, fiscal.CreatePeriodInput{OrgID: f.org, Name: "Mar", StartDate: day(3, 1), EndDate: day(3, 31)})
	require.NoError(t, err)
	_, err = f.fiscal.BeginClose(f.ctx, f.org, mar.ID)
	require.NoError(t, err)
	_, err = f.fiscal.Close(f.ctx, f.org, mar.ID)
	require.NoError(t, err)

	_, err = f.svc.PostSale(f.ctx, salonSale(f.org, acc))
	chainErr, ok := AsChainError(err)
	require.True(t, ok)
	assert.Equal(t, StepSale, chainErr.Step)
	assert.Equal(t, shared.KindFiscalPeriod, shared.KindOf(err))

	txs, err := f.repo.List(f.ctx, f.org, ledger.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPlanSaleRoundingRemainder(t *testing.T) {
	acc := saleAccounts{receivable: uuid.New(), services: uuid.New(), taxPayable: uuid.New()}
	in := SaleInput{
		OrgID: uuid.New(), Date: day(1, 1), Currency: "USD", SmartCode: "HERA.SALON.SALE.TXN.v1",
		TaxRate: dec("0.07"), ReceivableAccountID: acc.receivable, TaxPayableAccountID: &acc.taxPayable,
		Items: []SaleItem{
			{RevenueAccountID: acc.services, Amount: dec("0.10")},
			{RevenueAccountID: acc.services, Amount: dec("0.10")},
			{RevenueAccountID: acc.services, Amount: dec("0.10")},
		},
	}
	plan, err := planSale("test", in)
	require.NoError(t, err)
	assert.True(t, plan.taxTotal.Equal(dec("0.02")))
	sum := dec("0")
	for _, line := range plan.tax.Lines {
		sum = sum.Add(line.Amount)
	}
	assert.True(t, sum.Equal(plan.taxTotal))
	require.Len(t, plan.gl.Lines, 3, "credits to one revenue account are merged")
	assert.True(t, plan.gl.Lines[1].Amount.Equal(dec("0.30")))

	in.TaxPayableAccountID = nil
	_, err = planSale("test", in)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestPostSaleSpreadsTaxRemainder(t *testing.T) {
	f := newFixture(t)
	acc := f.saleAccounts(t)
	in := salonSale(f.org, acc)
	in.Items = nil
	for i := 0; i < 10; i++ {
		in.Items = append(in.Items, SaleItem{RevenueAccountID: acc.products, Amount: dec("0.30"), Description: "Sample"})
	}

	result, err := f.svc.PostSale(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, result.Tax.Equal(dec("0.15")))
	require.NotNil(t, result.TaxCollectionID)

	tax, err := f.repo.Get(f.ctx, f.org, *result.TaxCollectionID)
	require.NoError(t, err)
	require.Len(t, tax.Lines, 10)
	sum := dec("0")
	for i, line := range tax.Lines {
		assert.False(t, line.Amount.IsNegative(), "tax line %d = %s", i+1, line.Amount)
		assert.True(t, line.Amount.Equal(dec("0.01")) || line.Amount.Equal(dec("0.02")), "tax line %d = %s", i+1, line.Amount)
		sum = sum.Add(line.Amount)
	}
	assert.True(t, sum.Equal(dec("0.15")))
}

func TestAllocateTaxFavoursLargestRemainder(t *testing.T) {
	shares := allocateTax([]decimal.Decimal{dec("0.10"), dec("0.30"), dec("0.18")}, dec("0.05"), dec("0.03"), "USD")
	require.Len(t, shares, 3)
	assert.True(t, shares[0].Equal(dec("0")), "got %s", shares[0])
	assert.True(t, shares[1].Equal(dec("0.02")), "got %s", shares[1])
	assert.True(t, shares[2].Equal(dec("0.01")), "got %s", shares[2])
}
