package idempotency

import "testing"

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key("R-100"); got != "order:ref:R-100" {
		t.Fatalf("Key = %q", got)
	}
}
