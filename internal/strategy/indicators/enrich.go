package indicators

import "cryptoStalkerBot/internal/domain"

// EnricherConfig holds the periods used when populating candle indicators.
type EnricherConfig struct {
	RSIPeriod        int     // e.g., 14
	ATRPeriod        int     // e.g., 10 (SuperTrend and Keltner)
	STMultiplier     float64 // e.g., 3
	KeltnerPeriod    int     // EMA midline period, e.g., 20
	KeltnerBandWidth float64 // band width in ATRs, e.g., 2
	PSARStep         float64 // e.g., 0.02
	PSARMax          float64 // e.g., 0.2
	MACDFast         int     // e.g., 12
	MACDSlow         int     // e.g., 26
	MACDSignal       int     // e.g., 9
}

// DefaultEnricherConfig returns the conventional periods for each series.
func DefaultEnricherConfig() EnricherConfig {
	return EnricherConfig{
		RSIPeriod:        14,
		ATRPeriod:        10,
		STMultiplier:     3,
		KeltnerPeriod:    20,
		KeltnerBandWidth: 2,
		PSARStep:         0.02,
		PSARMax:          0.2,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
	}
}

// Enricher fills domain.Indicators on the latest candle of a window. Feeds
// use it so the rest of the system sees indicator values as given data.
type Enricher struct {
	cfg EnricherConfig
}

// NewEnricher creates an Enricher.
func NewEnricher(cfg EnricherConfig) *Enricher {
	return &Enricher{cfg: cfg}
}

// RequiredDataPoints returns the history needed before every series has a
// value.
func (e *Enricher) RequiredDataPoints() int {
	req := RSI{Period: e.cfg.RSIPeriod}.RequiredDataPoints()
	if n := (SuperTrend{Period: e.cfg.ATRPeriod}).RequiredDataPoints(); n > req {
		req = n
	}
	if n := (MACD{FastPeriod: e.cfg.MACDFast, SlowPeriod: e.cfg.MACDSlow, SignalPeriod: e.cfg.MACDSignal}).RequiredDataPoints(); n > req {
		req = n
	}
	if e.cfg.KeltnerPeriod > req {
		req = e.cfg.KeltnerPeriod
	}
	return req
}

// Enrich computes every series over the window and returns the indicator set
// for its latest candle. Series without enough history are left zero.
func (e *Enricher) Enrich(candles []domain.Candle) domain.Indicators {
	var ind domain.Indicators
	if v, err := (RSI{Period: e.cfg.RSIPeriod}).Calculate(candles); err == nil {
		ind.RSI = v
	}
	if line, up, err := (SuperTrend{Period: e.cfg.ATRPeriod, Multiplier: e.cfg.STMultiplier}).Line(candles); err == nil {
		ind.SuperTrend = line
		ind.TrendUp = up
	}
	if v, err := (PSAR{Step: e.cfg.PSARStep, Max: e.cfg.PSARMax}).Calculate(candles); err == nil {
		ind.PSAR = v
	}
	if line, signal, err := (MACD{FastPeriod: e.cfg.MACDFast, SlowPeriod: e.cfg.MACDSlow, SignalPeriod: e.cfg.MACDSignal}).Lines(candles); err == nil {
		ind.MACD = line
		ind.MACDSignal = signal
	}
	mid, err := (EMA{Period: e.cfg.KeltnerPeriod}).Calculate(candles)
	if err == nil {
		if atr, err := (ATR{Period: e.cfg.ATRPeriod}).Calculate(candles); err == nil {
			ind.KeltnerLow = mid - e.cfg.KeltnerBandWidth*atr
			ind.KeltnerUp = mid + e.cfg.KeltnerBandWidth*atr
		}
	}
	return ind
}
