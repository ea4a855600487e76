package main

import (
	"testing"

	"sushiclicker.com/internal/protocol"
)

func TestPickPurchase(t *testing.T) {
	avail := []protocol.Quote{
		{Kind: "UPGRADE", ID: "gold_knife", Cost: 500, Affordable: false},
		{Kind: "UPGRADE", ID: "sharp_knife", Cost: 20, Affordable: true},
		{Kind: "STAFF", ID: "server", Cost: 20, Affordable: true},
		{Kind: "UPGRADE", ID: "rolling_mat", Cost: 5, Affordable: true, Capped: true},
		{Kind: "UPGRADE", ID: "maki", Cost: 1, Affordable: true, Missing: []string{"sharp_knife"}},
	}
	q, ok := pickPurchase(avail)
	if !ok {
		t.Fatalf("expected a pick")
	}
	if q.ID != "server" {
		t.Fatalf("picked %s want server", q.ID)
	}

	if _, ok := pickPurchase(avail[:1]); ok {
		t.Fatalf("nothing affordable should yield no pick")
	}
}
