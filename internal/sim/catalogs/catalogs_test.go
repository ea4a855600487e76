package catalogs

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestDefaultCatalogsLoad(t *testing.T) {
	c := Default()
	if len(c.Upgrades.Order) == 0 || len(c.Staff.Order) == 0 {
		t.Fatalf("expected non-empty default catalogs")
	}
	if c.Upgrades.Digest == "" || c.Staff.Digest == "" || c.Digest() == "" {
		t.Fatalf("expected digests")
	}
	for _, id := range c.Upgrades.Order {
		if c.Upgrades.ByID[id].CostGrowth <= 1 {
			t.Fatalf("%s: cost_growth must be > 1", id)
		}
	}
	if len(c.Synergies.ByTag["knife"]) == 0 {
		t.Fatalf("expected knife synergy")
	}
}

func TestDigestStable(t *testing.T) {
	a, b := Default(), Default()
	if a.Digest() != b.Digest() {
		t.Fatalf("digest not stable: %s vs %s", a.Digest(), b.Digest())
	}
}

func minimalFS(upgrades string) fstest.MapFS {
	return fstest.MapFS{
		"upgrades.json": {Data: []byte(upgrades)},
		"staff.json":    {Data: []byte(`[]`)},
	}
}

func TestRejectsForwardPrerequisite(t *testing.T) {
	fsys := minimalFS(`[
	  {"id":"b","category":"RECIPE","base_cost":10,"cost_growth":1.1,"effect":{"channel":"CLICK","kind":"ADD","value":1},"prerequisites":["a"]},
	  {"id":"a","category":"RECIPE","base_cost":10,"cost_growth":1.1,"effect":{"channel":"CLICK","kind":"ADD","value":1}}
	]`)
	if _, err := LoadFS(fsys); !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected ErrInvalidCatalog, got %v", err)
	}
}

func TestRejectsBadPricingAndEffects(t *testing.T) {
	cases := map[string]string{
		"growth":  `[{"id":"a","base_cost":10,"cost_growth":1,"effect":{"channel":"CLICK","kind":"ADD","value":1}}]`,
		"cost":    `[{"id":"a","base_cost":0,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"ADD","value":1}}]`,
		"channel": `[{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"NOPE","kind":"ADD","value":1}}]`,
		"kind":    `[{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"POW","value":1}}]`,
		"mult":    `[{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"MULT","value":0}}]`,
		"dup":     `[{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"ADD","value":1}},{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"ADD","value":1}}]`,
	}
	for name, raw := range cases {
		if _, err := LoadFS(minimalFS(raw)); !errors.Is(err, ErrInvalidCatalog) {
			t.Fatalf("%s: expected ErrInvalidCatalog, got %v", name, err)
		}
	}
}

func TestOptionalFilesMayBeMissing(t *testing.T) {
	c, err := LoadFS(minimalFS(`[{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"ADD","value":1}}]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Achievements.ByID) != 0 || len(c.Synergies.ByTag) != 0 {
		t.Fatalf("expected empty optional catalogs")
	}
}

func TestRejectsUnknownAchievementTarget(t *testing.T) {
	fsys := minimalFS(`[{"id":"a","base_cost":10,"cost_growth":1.2,"effect":{"channel":"CLICK","kind":"ADD","value":1}}]`)
	fsys["achievements.json"] = &fstest.MapFile{Data: []byte(`[{"id":"x","condition":{"kind":"STAFF_OWNED","target":"ghost","threshold":1}}]`)}
	if _, err := LoadFS(fsys); !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected ErrInvalidCatalog, got %v", err)
	}
}
