package exchange

import (
	"testing"
	"time"
)

func TestSignerHeaders(t *testing.T) {
	s := NewSigner("key", "secret", "pass")
	now := time.UnixMilli(1700000000000)
	h := s.Headers("POST", "/api/v1/orders", `{"a":1}`, now)

	want := map[string]string{
		HeaderKey:        "key",
		HeaderSign:       "BjMIEonH8T7cjjoqZFb9cHJ6wjuuYMIeAKnbI7tsybc=",
		HeaderTimestamp:  "1700000000000",
		HeaderPassphrase: "5sWmbVCOKjHTC6QsbNtTLaVSV6j3Lytz0LaHyiow0EE=",
		HeaderKeyVersion: "2",
	}
	for k, v := range want {
		if h[k] != v {
			t.Fatalf("%s = %q want %q", k, h[k], v)
		}
	}
}

func TestSignChangesWithPayload(t *testing.T) {
	s := NewSigner("key", "secret", "pass")
	a := s.Sign("1", "GET", "/api/v1/positions", "")
	b := s.Sign("1", "GET", "/api/v1/position?symbol=X", "")
	if a == b {
		t.Fatalf("different paths produced the same signature")
	}
}
