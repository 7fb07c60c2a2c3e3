package orchestrator

import "testing"

func TestMangleClOrdIDAppendsFourCharNonce(t *testing.T) {
	got := mangleClOrdID("my-order")
	if len(got) != len("my-order")+5 {
		t.Fatalf("expected a 4-char nonce suffix, got %q", got)
	}
	if got[:len("my-order")+1] != "my-order_" {
		t.Fatalf("expected nonce to be appended after an underscore, got %q", got)
	}
}

func TestMangleClOrdIDProducesDistinctNonces(t *testing.T) {
	a := mangleClOrdID("same")
	b := mangleClOrdID("same")
	if a == b {
		t.Fatalf("expected distinct nonces across calls, got %q twice", a)
	}
}

func TestDemangleClOrdIDDropsTrailingNonce(t *testing.T) {
	got := demangleClOrdID("abc_def_9f3a")
	if got != "abc_def" {
		t.Fatalf("expected abc_def, got %q", got)
	}
}

func TestDemangleClOrdIDLeavesShortIDsUntouched(t *testing.T) {
	got := demangleClOrdID("single")
	if got != "single" {
		t.Fatalf("expected single to pass through unchanged, got %q", got)
	}
	got = demangleClOrdID("two_parts")
	if got != "two_parts" {
		t.Fatalf("expected two_parts to pass through unchanged, got %q", got)
	}
}
