package strategy

import "context"

// Triangular is a placeholder for three-leg arbitrage on a single venue.
// It only honors the pause gate.
type Triangular struct {
	deps      Deps
	threshold float64
}

// NewTriangular creates the stub strategy
func NewTriangular(deps Deps, threshold float64) *Triangular {
	deps.Logger = deps.Logger.With().Str("component", "triangular").Logger()
	return &Triangular{deps: deps, threshold: threshold}
}

// Evaluate never trades
func (t *Triangular) Evaluate(ctx context.Context, venueID, basePair, quotePair, bridgePair string) Outcome {
	out := Outcome{Strategy: "Triangular", Pair: basePair + "/" + quotePair + "/" + bridgePair}
	if t.deps.paused() {
		t.deps.Logger.Debug().Str("venue", venueID).Str("legs", out.Pair).Msg("Triangular arbitrage skipped: trading paused")
		out.Action = ActionSkippedPaused
		return out
	}
	out.Action = ActionNoSignal
	return out
}
