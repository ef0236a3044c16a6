// Command seed loads a demo salon organization: chart of accounts, account
// hierarchy, monthly fiscal periods and a few chained sales.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/fiscal"
	"github.com/odyssey-erp/odyssey-ledger/internal/orgs"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/relationships"
	"github.com/odyssey-erp/odyssey-ledger/internal/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type account struct {
	code, name, smartCode, parent string
}

var chart = []account{
	{"1000", "Current assets", "SALON.FIN.GL.ASSET.CURRENT.v1", ""},
	{"1010", "Cash drawer", "SALON.FIN.GL.ASSET.CASH.v1", "1000"},
	{"1100", "Card receivables", "SALON.FIN.GL.ASSET.AR.v1", "1000"},
	{"2100", "Sales tax payable", "SALON.FIN.GL.LIABILITY.TAX.v1", ""},
	{"3000", "Owner equity", "SALON.FIN.GL.EQUITY.v1", ""},
	{"4000", "Revenue", "SALON.FIN.GL.REVENUE.v1", ""},
	{"4100", "Service revenue", "SALON.FIN.GL.REVENUE.SERVICE.v1", "4000"},
	{"4200", "Product sales", "SALON.FIN.GL.REVENUE.PRODUCT.v1", "4000"},
	{"4300", "Tips", "SALON.FIN.GL.REVENUE.TIPS.v1", "4000"},
	{"6100", "Stylist wages", "SALON.FIN.GL.EXPENSE.WAGES.v1", ""},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	services, err := app.BuildServices(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("build services: %v", err)
	}
	defer services.Close()

	fmt.Println("→ Creating organization...")
	org, err := services.Orgs.Create(ctx, orgs.CreateInput{Name: "Hair Talkz Salon", BaseCurrency: "USD"})
	if err != nil {
		log.Fatalf("create org: %v", err)
	}
	ctx = shared.WithTenant(shared.WithActor(ctx, "seed"), org.ID)

	fmt.Println("→ Seeding chart of accounts...")
	ids, err := seedAccounts(ctx, services, org.ID)
	if err != nil {
		log.Fatalf("seed accounts: %v", err)
	}

	year := time.Now().UTC().Year()
	fmt.Printf("→ Seeding fiscal periods for %d...\n", year)
	if err := seedPeriods(ctx, services.Fiscal, org.ID, year); err != nil {
		log.Fatalf("seed periods: %v", err)
	}

	fmt.Println("→ Posting sample sales...")
	if err := seedSales(ctx, services.Posting, org.ID, ids, year); err != nil {
		log.Fatalf("seed sales: %v", err)
	}

	tb, err := services.Reports.TrialBalance(ctx, reports.Config{
		OrgID:     org.ID,
		StartDate: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(year, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		log.Fatalf("trial balance: %v", err)
	}
	logger.Info("seed complete",
		slog.String("org_id", org.ID.String()),
		slog.Int("accounts", len(ids)),
		slog.Bool("balanced", tb.Summary.IsBalanced))
	fmt.Printf("✓ Seeded organization %s\n", org.ID)
}

func seedAccounts(ctx context.Context, s *app.Services, orgID uuid.UUID) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(chart))
	for _, a := range chart {
		e, err := s.Entities.CreateEntity(ctx, entities.CreateEntityInput{
			OrgID: orgID, Type: entities.TypeAccount, Code: a.code, Name: a.name, SmartCode: a.smartCode,
		})
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.code, err)
		}
		ids[a.code] = e.ID
	}
	for _, a := range chart {
		if a.parent == "" {
			continue
		}
		if _, err := s.Relationships.Link(ctx, relationships.LinkInput{
			OrgID:     orgID,
			FromID:    ids[a.parent],
			ToID:      ids[a.code],
			Type:      relationships.TypeAccountParent,
			SmartCode: "SALON.FIN.GL.HIERARCHY.v1",
		}); err != nil {
			return nil, fmt.Errorf("link %s under %s: %w", a.code, a.parent, err)
		}
	}
	return ids, nil
}

func seedPeriods(ctx context.Context, svc *fiscal.Service, orgID uuid.UUID, year int) error {
	for m := time.January; m <= time.December; m++ {
		start := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		if _, err := svc.CreatePeriod(ctx, fiscal.CreatePeriodInput{
			OrgID:     orgID,
			Name:      start.Format("2006-01"),
			StartDate: start,
			EndDate:   start.AddDate(0, 1, -1),
		}); err != nil {
			return fmt.Errorf("period %s: %w", start.Format("2006-01"), err)
		}
	}
	return nil
}

func seedSales(ctx context.Context, svc *posting.Service, orgID uuid.UUID, ids map[string]uuid.UUID, year int) error {
	taxPayable := ids["2100"]
	for i, day := range []int{3, 9, 17, 24} {
		number := fmt.Sprintf("POS-%04d", 1001+i)
		_, err := svc.PostSale(ctx, posting.SaleInput{
			OrgID:               orgID,
			Number:              number,
			Date:                time.Date(year, time.January, day, 0, 0, 0, 0, time.UTC),
			Currency:            "USD",
			SmartCode:           "SALON.POS.SALE.TXN.v1",
			TaxRate:             decimal.RequireFromString("0.05"),
			ReceivableAccountID: ids["1100"],
			TaxPayableAccountID: &taxPayable,
			IdempotencyKey:      "seed-" + number,
			Items: []posting.SaleItem{
				{RevenueAccountID: ids["4100"], Quantity: decimal.NewFromInt(2), UnitAmount: decimal.NewFromInt(85), Description: "Cut and style"},
				{RevenueAccountID: ids["4200"], Amount: decimal.NewFromInt(32), Description: "Conditioner"},
				{RevenueAccountID: ids["4300"], Amount: decimal.NewFromInt(15), Description: "Tip"},
			},
		})
		if err != nil {
			return fmt.Errorf("sale %s: %w", number, err)
		}
	}
	return nil
}
