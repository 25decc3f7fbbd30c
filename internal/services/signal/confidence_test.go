package signal

import "testing"

func TestAdjustConfidence(t *testing.T) {
	cfg := DefaultConfig().Confidence
	elevated, high := 3.0, 5.0

	tests := []struct {
		name string
		in   ConfidenceInput
		want float64
	}{
		{"no penalties", ConfidenceInput{Base: 80}, 80},
		{"chop", ConfidenceInput{Base: 80, IsChoppy: true}, 65},
		{"elevated atr", ConfidenceInput{Base: 80, ATRPercent: &elevated}, 73},
		{"high atr", ConfidenceInput{Base: 80, ATRPercent: &high}, 65},
		{"conflicts", ConfidenceInput{Base: 80, Bullish: 4, Bearish: 2}, 74},
		{"clamped low", ConfidenceInput{Base: 10, IsChoppy: true, ATRPercent: &high}, 0},
		{"clamped high", ConfidenceInput{Base: 130}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AdjustConfidence(cfg, tt.in); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestAdjustConfidenceDisabledStillClamps(t *testing.T) {
	cfg := DefaultConfig().Confidence
	cfg.Enabled = false
	if got := AdjustConfidence(cfg, ConfidenceInput{Base: 120, IsChoppy: true}); got != 100 {
		t.Fatalf("expected clamp only, got %v", got)
	}
	if got := AdjustConfidence(cfg, ConfidenceInput{Base: 70, IsChoppy: true}); got != 70 {
		t.Fatalf("expected no penalty when disabled, got %v", got)
	}
}

func TestDefaultConfidenceEnabled(t *testing.T) {
	if !DefaultConfig().Confidence.Enabled {
		t.Fatalf("confidence adjustment must default on")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
