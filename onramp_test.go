package onramp

import "testing"

func TestScopeKeyCanonicalization(t *testing.T) {
	a := SessionParams{
		Addresses: []Address{
			{Address: "0xaaa", Blockchains: []string{"ethereum", "base"}},
			{Address: "0xbbb", Blockchains: []string{"polygon"}},
		},
		Assets: []string{"USDC", "ETH"},
	}
	// Same scope, different ordering everywhere.
	b := SessionParams{
		Addresses: []Address{
			{Address: "0xbbb", Blockchains: []string{"polygon"}},
			{Address: "0xaaa", Blockchains: []string{"base", "ethereum"}},
		},
		Assets: []string{"ETH", "USDC"},
	}
	if a.ScopeKey() != b.ScopeKey() {
		t.Fatal("reordered params produced different scope keys")
	}

	c := SessionParams{
		Addresses: []Address{
			{Address: "0xaaa", Blockchains: []string{"ethereum", "base"}},
		},
		Assets: []string{"USDC", "ETH"},
	}
	if a.ScopeKey() == c.ScopeKey() {
		t.Fatal("different address sets produced the same scope key")
	}

	d := a
	d.Assets = []string{"USDC"}
	if a.ScopeKey() == d.ScopeKey() {
		t.Fatal("different asset sets produced the same scope key")
	}
}

func TestScopeKeyDoesNotMutateParams(t *testing.T) {
	p := SessionParams{
		Addresses: []Address{{Address: "0xbbb", Blockchains: []string{"ethereum", "base"}}},
		Assets:    []string{"USDC", "ETH"},
	}
	_ = p.ScopeKey()
	if p.Addresses[0].Blockchains[0] != "ethereum" {
		t.Fatal("ScopeKey sorted the caller's blockchains slice")
	}
	if p.Assets[0] != "USDC" {
		t.Fatal("ScopeKey sorted the caller's assets slice")
	}
}
