package posting

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/smartcode"
)

type salePlan struct {
	sale     PostInput
	gl       PostInput
	tax      PostInput
	subtotal decimal.Decimal
	taxTotal decimal.Decimal
	total    decimal.Decimal
}

// PostSale records a sale, its GL posting and its tax collection in order. Each
// step is its own atomic posting referencing the steps before it; a failure
// returns a *ChainError naming the failed step and the ids already committed.
func (s *Service) PostSale(ctx context.Context, input SaleInput) (ChainResult, error) {
	const op = "posting.post_sale"
	if err := shared.EnsureTenant(ctx, op, input.OrgID); err != nil {
		return ChainResult{}, err
	}
	plan, err := planSale(op, input)
	if err != nil {
		return ChainResult{}, err
	}
	result := ChainResult{Subtotal: plan.subtotal, Tax: plan.taxTotal, Total: plan.total}

	sale, err := s.Post(ctx, plan.sale)
	if err != nil {
		return ChainResult{}, &ChainError{Step: StepSale, Completed: result, Err: err}
	}
	result.SaleID = sale.ID

	plan.gl.References = []uuid.UUID{sale.ID}
	gl, err := s.Post(ctx, plan.gl)
	if err != nil {
		return result, &ChainError{Step: StepGLPosting, Completed: result, Err: err}
	}
	result.GLPostingID = gl.ID

	if plan.taxTotal.IsPositive() {
		plan.tax.References = []uuid.UUID{gl.ID, sale.ID}
		tax, err := s.Post(ctx, plan.tax)
		if err != nil {
			return result, &ChainError{Step: StepTaxCollection, Completed: result, Err: err}
		}
		result.TaxCollectionID = &tax.ID
	}
	return result, nil
}

func planSale(op string, input SaleInput) (salePlan, error) {
	code, err := smartcode.Parse(input.SmartCode)
	if err != nil {
		return salePlan{}, shared.Wrap(shared.KindValidation, op, err)
	}
	currency, err := money.ParseCurrency(input.Currency)
	if err != nil {
		return salePlan{}, shared.Wrap(shared.KindValidation, op, err)
	}
	if input.Date.IsZero() {
		return salePlan{}, shared.Validation(op, "transaction date is required")
	}
	if len(input.Items) == 0 {
		return salePlan{}, shared.Validation(op, "a sale requires at least one item")
	}
	if input.ReceivableAccountID == uuid.Nil {
		return salePlan{}, shared.Validation(op, "receivable account is required")
	}
	if input.TaxRate.IsNegative() {
		return salePlan{}, shared.Validation(op, "tax rate cannot be negative")
	}
	taxed := input.TaxRate.IsPositive()
	if taxed && (input.TaxPayableAccountID == nil || *input.TaxPayableAccountID == uuid.Nil) {
		return salePlan{}, shared.Validation(op, "tax payable account is required when tax applies")
	}
	domain, module := code.Domain(), code.Module()
	glCode := input.GLSmartCode
	if glCode == "" {
		glCode = fmt.Sprintf("%s.FIN.GL.POSTING.SALE.v1", domain)
	}
	taxCode := input.TaxSmartCode
	if taxCode == "" {
		taxCode = fmt.Sprintf("%s.FIN.TAX.COLLECTION.v1", domain)
	}

	amounts := make([]decimal.Decimal, len(input.Items))
	subtotal := decimal.Zero
	for i, item := range input.Items {
		if item.RevenueAccountID == uuid.Nil {
			return salePlan{}, shared.Validation(op, fmt.Sprintf("item %d: revenue account is required", i+1))
		}
		quantity := item.Quantity
		if quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}
		amount := item.Amount
		if amount.IsZero() {
			amount = quantity.Mul(item.UnitAmount)
		}
		if amount.IsNegative() || quantity.IsNegative() {
			return salePlan{}, shared.Validation(op, fmt.Sprintf("item %d: amounts cannot be negative", i+1))
		}
		amount = money.Round(amount, currency)
		amounts[i] = amount
		subtotal = subtotal.Add(amount)
	}
	taxTotal := decimal.Zero
	lineTax := make([]decimal.Decimal, len(input.Items))
	if taxed {
		taxTotal = money.Round(subtotal.Mul(input.TaxRate), currency)
		lineTax = allocateTax(amounts, input.TaxRate, taxTotal, currency)
	}
	total := subtotal.Add(taxTotal)

	keyFor := func(step string) string {
		if input.IdempotencyKey == "" {
			return ""
		}
		return input.IdempotencyKey + ":" + step
	}
	rate := decimal.NullDecimal{Decimal: input.TaxRate, Valid: true}

	sale := PostInput{
		OrgID:          input.OrgID,
		Type:           string(ledger.TypeSale),
		Number:         input.Number,
		Date:           input.Date,
		Currency:       currency,
		TotalAmount:    total,
		TargetEntityID: input.CustomerID,
		SmartCode:      code.String(),
		Description:    "Sale " + input.Number,
		IdempotencyKey: keyFor("sale"),
	}
	for i, item := range input.Items {
		itemCode := item.SmartCode
		if itemCode == "" {
			itemCode = fmt.Sprintf("%s.%s.SALE.LINE.v1", domain, module)
		}
		revenue := item.RevenueAccountID
		sale.Lines = append(sale.Lines, LineInput{
			Type:        smartcode.RoleItem,
			EntityID:    item.EntityID,
			AccountID:   &revenue,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      amounts[i],
			TaxRate:     rate,
			SmartCode:   itemCode,
			Description: item.Description,
		})
	}
	if taxed {
		sale.Lines = append(sale.Lines, LineInput{
			Type:      smartcode.RoleTax,
			AccountID: input.TaxPayableAccountID,
			Amount:    taxTotal,
			TaxRate:   rate,
			SmartCode: fmt.Sprintf("%s.%s.SALE.TAX.v1", domain, module),
		})
	}

	receivable := input.ReceivableAccountID
	gl := PostInput{
		OrgID:          input.OrgID,
		Type:           string(ledger.TypeGLPosting),
		Number:         input.Number,
		Date:           input.Date,
		Currency:       currency,
		TotalAmount:    total,
		TargetEntityID: input.CustomerID,
		IsLedger:       true,
		SmartCode:      glCode,
		Description:    "GL posting for sale " + input.Number,
		IdempotencyKey: keyFor("gl"),
		Lines: []LineInput{{
			Type:      smartcode.RoleLedger,
			EntityID:  input.CustomerID,
			AccountID: &receivable,
			Side:      smartcode.Debit,
			Amount:    total,
			SmartCode: fmt.Sprintf("%s.FIN.GL.LINE.DEBIT.v1", domain),
		}},
	}
	credits := make(map[uuid.UUID]int)
	for i, item := range input.Items {
		if idx, ok := credits[item.RevenueAccountID]; ok {
			gl.Lines[idx].Amount = gl.Lines[idx].Amount.Add(amounts[i])
			continue
		}
		revenue := item.RevenueAccountID
		credits[revenue] = len(gl.Lines)
		gl.Lines = append(gl.Lines, LineInput{
			Type:      smartcode.RoleLedger,
			AccountID: &revenue,
			Side:      smartcode.Credit,
			Amount:    amounts[i],
			SmartCode: fmt.Sprintf("%s.FIN.GL.LINE.CREDIT.v1", domain),
		})
	}
	if taxed {
		gl.Lines = append(gl.Lines, LineInput{
			Type:      smartcode.RoleLedger,
			AccountID: input.TaxPayableAccountID,
			Side:      smartcode.Credit,
			Amount:    taxTotal,
			SmartCode: fmt.Sprintf("%s.FIN.GL.LINE.CREDIT.v1", domain),
		})
	}

	tax := PostInput{
		OrgID:          input.OrgID,
		Type:           string(ledger.TypeTaxCollection),
		Number:         input.Number,
		Date:           input.Date,
		Currency:       currency,
		TotalAmount:    taxTotal,
		TargetEntityID: input.CustomerID,
		SmartCode:      taxCode,
		Description:    "Tax collected on sale " + input.Number,
		IdempotencyKey: keyFor("tax"),
	}
	for i, item := range input.Items {
		if lineTax[i].IsZero() {
			continue
		}
		tax.Lines = append(tax.Lines, LineInput{
			Type:        smartcode.RoleTax,
			EntityID:    item.EntityID,
			AccountID:   input.TaxPayableAccountID,
			UnitAmount:  lineTax[i],
			Amount:      lineTax[i],
			TaxRate:     rate,
			SmartCode:   fmt.Sprintf("%s.FIN.TAX.LINE.v1", domain),
			Description: item.Description,
		})
	}
	return salePlan{sale: sale, gl: gl, tax: tax, subtotal: subtotal, taxTotal: taxTotal, total: total}, nil
}

// allocateTax splits total across lines by largest remainder. Each line starts at
// its share truncated to the minor unit; leftover units go one at a time to the
// largest truncated fractions, larger amounts first. Shares sum to total.
func allocateTax(amounts []decimal.Decimal, rate, total decimal.Decimal, currency string) []decimal.Decimal {
	scale := money.Scale(currency)
	unit := decimal.New(1, -scale)
	shares := make([]decimal.Decimal, len(amounts))
	fractions := make([]decimal.Decimal, len(amounts))
	allocated := decimal.Zero
	for i, amount := range amounts {
		exact := amount.Mul(rate)
		shares[i] = exact.Truncate(scale)
		fractions[i] = exact.Sub(shares[i])
		allocated = allocated.Add(shares[i])
	}
	order := make([]int, len(amounts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if c := fractions[i].Cmp(fractions[j]); c != 0 {
			return c > 0
		}
		return amounts[i].GreaterThan(amounts[j])
	})
	units := total.Sub(allocated).Div(unit).IntPart()
	for k := int64(0); k < units && len(order) > 0; k++ {
		i := order[int(k)%len(order)]
		shares[i] = shares[i].Add(unit)
	}
	return shares
}
