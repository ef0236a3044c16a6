package smartcode

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	code, err := Parse("HERA.SALON.SALE.TXN.v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code.Domain() != "HERA" || code.Module() != "SALON" || code.Version() != 2 {
		t.Fatalf("unexpected parse result %+v", code.Segments())
	}
	if code.String() != "HERA.SALON.SALE.TXN.v2" {
		t.Fatalf("round trip mismatch: %s", code.String())
	}
	if !code.HasPrefix("HERA.SALON") || code.HasPrefix("HERA.FIN") {
		t.Fatalf("prefix match incorrect")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"HERA.v1",
		"HERA.SALON.SALE",
		"hera.salon.v1",
		"HERA.SALON.v0",
		"HERA..SALE.v1",
		"HERA.SALON.SALE.V1",
		"HERA.SALON-X.v1",
	} {
		if _, err := Parse(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", raw, err)
		}
	}
}

func TestJSONAndScan(t *testing.T) {
	code := MustParse("ACME.FIN.GL.ASSET.CASH.v1")
	raw, err := json.Marshal(code)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Code
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.String() != code.String() {
		t.Fatalf("expected %s got %s", code, decoded)
	}
	var scanned Code
	if err := scanned.Scan([]byte("ACME.FIN.GL.REVENUE.v3")); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scanned.Version() != 3 {
		t.Fatalf("unexpected version %d", scanned.Version())
	}
	if err := scanned.Scan(nil); err != nil || !scanned.IsZero() {
		t.Fatalf("expected nil scan to reset code")
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := DefaultRegistry()

	class, ok := reg.Classify(MustParse("ACME.FIN.GL.ASSET.CASH.MAIN.v1"))
	if !ok {
		t.Fatalf("expected classification")
	}
	if class.Section != SectionAsset || !class.Current || class.NormalBalance != Debit {
		t.Fatalf("unexpected classification %+v", class)
	}

	class, ok = reg.Classify(MustParse("ACME.FIN.GL.ASSET.EQUIPMENT.v1"))
	if !ok || class.Current {
		t.Fatalf("expected non-current asset, got %+v", class)
	}

	class, ok = reg.Classify(MustParse("ACME.FIN.GL.REVENUE.SERVICE.v1"))
	if !ok || class.NormalBalance != Credit {
		t.Fatalf("expected credit-normal revenue, got %+v", class)
	}

	class, ok = reg.Classify(MustParse("ACME.FIN.GL.LINE.DEBIT.v1"))
	if !ok || class.Side != Debit || class.Role != RoleLedger {
		t.Fatalf("expected debit ledger line, got %+v", class)
	}

	if _, ok := reg.Classify(MustParse("ACME.CRM.CONTACT.v1")); ok {
		t.Fatalf("expected no classification for CRM code")
	}
}

func TestRegistryOverride(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("ACME.FIN.GL.ASSET", Classification{Section: SectionAsset}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("*.FIN.GL.ASSET", Classification{Section: SectionLiability}); err != nil {
		t.Fatalf("register: %v", err)
	}
	class, _ := reg.Classify(MustParse("ACME.FIN.GL.ASSET.X.v1"))
	if class.Section != SectionAsset {
		t.Fatalf("exact pattern should beat wildcard, got %s", class.Section)
	}
	if err := reg.Register("bad.pattern", Classification{}); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
}
