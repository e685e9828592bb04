package op

import "testing"

// TestHashPayload_KeyOrderStable verifies the digest is identical for
// payloads with the same content regardless of construction order.
func TestHashPayload_KeyOrderStable(t *testing.T) {
	a := map[string]any{
		"total_amount": 100.0,
		"status":       "unpaid",
		"items":        []any{map[string]any{"qty": 2.0, "price": 50.0}},
		"version":      1,
	}
	b := map[string]any{
		"version":      1,
		"items":        []any{map[string]any{"price": 50.0, "qty": 2.0}},
		"status":       "unpaid",
		"total_amount": 100.0,
	}

	ha, err := HashPayload(a)
	if err != nil {
		t.Fatalf("HashPayload(a) failed: %v", err)
	}
	hb, err := HashPayload(b)
	if err != nil {
		t.Fatalf("HashPayload(b) failed: %v", err)
	}

	if ha != hb {
		t.Errorf("hash differs for equal payloads: %s != %s", ha, hb)
	}
}

func TestHashPayload_ContentSensitive(t *testing.T) {
	base := map[string]any{"status": "unpaid", "version": 1}
	changed := map[string]any{"status": "paid", "version": 1}

	hBase, err := HashPayload(base)
	if err != nil {
		t.Fatalf("HashPayload(base) failed: %v", err)
	}
	hChanged, err := HashPayload(changed)
	if err != nil {
		t.Fatalf("HashPayload(changed) failed: %v", err)
	}

	if hBase == hChanged {
		t.Error("hash identical for different payloads")
	}
}

func TestHashPayload_Empty(t *testing.T) {
	h1, err := HashPayload(nil)
	if err != nil {
		t.Fatalf("HashPayload(nil) failed: %v", err)
	}
	h2, err := HashPayload(map[string]any{})
	if err != nil {
		t.Fatalf("HashPayload(empty) failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("nil and empty payload hash differently: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
}

func TestHashPayload_NestedMapsSorted(t *testing.T) {
	a := map[string]any{"outer": map[string]any{"b": 2, "a": 1}}
	b := map[string]any{"outer": map[string]any{"a": 1, "b": 2}}

	ha, _ := HashPayload(a)
	hb, _ := HashPayload(b)
	if ha != hb {
		t.Error("nested map key order affected hash")
	}
}
