package signal

import (
	"math"

	"PerpGate/internal/domain/models"
)

// GateContext is a fresh per-cycle snapshot. It is never persisted.
type GateContext struct {
	Score           float64
	PrevScore       float64
	Threshold       float64
	Confidence      float64
	Agreeing        int
	Total           int
	TrendSign       float64
	HTFSign         float64
	DrawdownPercent float64
	// WindowActive lets a score already above threshold through the edge trigger
	// while a trigger window opened on an earlier cycle is still running.
	WindowActive bool
}

type GateResult struct {
	Pass    bool
	Reasons []models.BlockReason
	// Tolerated lists optional conditions that failed but were outvoted by the majority.
	Tolerated []models.BlockReason
}

// EvaluateGate applies the entry conditions. It is a pure function of cfg and gc.
func EvaluateGate(cfg GateConfig, gc GateContext) GateResult {
	var res GateResult
	abs := math.Abs(gc.Score)

	if cfg.DeadZoneEnabled && abs < cfg.DeadZone {
		res.Reasons = append(res.Reasons, models.BlockDeadZone)
	}
	if cfg.EdgeTrigger && abs >= gc.Threshold && !crossed(gc.PrevScore, gc.Score, gc.Threshold) && !gc.WindowActive {
		res.Reasons = append(res.Reasons, models.BlockNoEdgeCross)
	}
	if cfg.DrawdownEnabled && gc.DrawdownPercent >= cfg.MaxDrawdownPercent {
		res.Reasons = append(res.Reasons, models.BlockDrawdown)
	}

	var optional, failed []models.BlockReason
	if cfg.ConfidenceEnabled {
		optional = append(optional, models.BlockLowConfidence)
		if gc.Confidence < cfg.MinConfidence {
			failed = append(failed, models.BlockLowConfidence)
		}
	}
	if cfg.ConfluenceEnabled {
		optional = append(optional, models.BlockLowConfluence)
		if !confluent(cfg, gc.Agreeing, gc.Total) {
			failed = append(failed, models.BlockLowConfluence)
		}
	}
	if cfg.TrendAlignment {
		optional = append(optional, models.BlockTrendMisalign)
		sign := math.Copysign(1, gc.Score)
		if gc.Score == 0 || gc.TrendSign != sign || gc.HTFSign != sign {
			failed = append(failed, models.BlockTrendMisalign)
		}
	}

	if len(failed) > 0 {
		passed := len(optional) - len(failed)
		if !cfg.Strict && passed*2 > len(optional) {
			res.Tolerated = failed
		} else {
			res.Reasons = append(res.Reasons, failed...)
		}
	}

	res.Pass = len(res.Reasons) == 0
	return res
}

// crossed reports whether score reached the threshold this cycle, either from
// below or by flipping sign.
func crossed(prev, score, threshold float64) bool {
	if math.Abs(score) < threshold {
		return false
	}
	if math.Abs(prev) < threshold {
		return true
	}
	return math.Signbit(prev) != math.Signbit(score)
}

func confluent(cfg GateConfig, agreeing, total int) bool {
	if cfg.MinConfluenceCount > 0 && agreeing >= cfg.MinConfluenceCount {
		return true
	}
	if total > 0 && cfg.MinConfluencePct > 0 && float64(agreeing)/float64(total)*100 >= cfg.MinConfluencePct {
		return true
	}
	return cfg.MinConfluenceCount == 0 && cfg.MinConfluencePct == 0
}
