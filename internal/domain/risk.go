package domain

import "time"

// RiskProfile is the read-only set of limits applied by the detector and the
// execution coordinator. It is owned by the configuration collaborator and
// refreshed through a RiskProfileSource.
type RiskProfile struct {
	MinProfitPercentage   float64
	MaxTradeAmount        float64
	MaxSlippagePercentage float64
	MaxExecutionTimeMs    int64
	MaxConcurrentTrades   int
	DailyLossLimitPercent float64
}

// ExecutionTimeout returns the per-leg wall-clock budget as a duration,
// falling back to 5s when unconfigured.
func (r RiskProfile) ExecutionTimeout() time.Duration {
	if r.MaxExecutionTimeMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.MaxExecutionTimeMs) * time.Millisecond
}
