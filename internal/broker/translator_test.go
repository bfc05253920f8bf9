package broker

import (
	"testing"

	"github.com/atlas-quant/optopus-engine/pkg/types"
)

func TestTranslator_AssetType(t *testing.T) {
	tr := NewTranslator()
	got, ok := tr.AssetType("OPT")
	if !ok || got != types.AssetOption {
		t.Fatalf("expected Option, got %v ok=%v", got, ok)
	}
	if _, ok := tr.AssetType("UNKNOWN"); ok {
		t.Fatal("expected unrecognized sectype to be rejected")
	}
}

func TestTranslator_Account_IgnoresBaseAndOtherCurrency(t *testing.T) {
	tr := NewTranslator()
	tags := []AccountTag{
		{Tag: "NetLiquidation", Value: 100000, Currency: "USD"},
		{Tag: "NetLiquidation", Value: 999999, Currency: "BASE"},
		{Tag: "TotalCashValue", Value: 5000, Currency: "EUR"},
	}
	account := tr.Account(tags, types.USD)
	if account.NetLiquidation != 100000 {
		t.Fatalf("expected 100000, got %v", account.NetLiquidation)
	}
	if account.Cash != 0 {
		t.Fatalf("expected Cash to stay 0 for non-configured currency, got %v", account.Cash)
	}
}

func TestTranslator_OrderStatus(t *testing.T) {
	tr := NewTranslator()
	got, ok := tr.OrderStatus("Filled")
	if !ok || got != types.StatusFilled {
		t.Fatalf("expected Filled, got %v ok=%v", got, ok)
	}
}

func TestReverseAction(t *testing.T) {
	if ReverseAction("BUY") != "SELL" {
		t.Fatal("expected SELL")
	}
	if ReverseAction("SELL") != "BUY" {
		t.Fatal("expected BUY")
	}
}
