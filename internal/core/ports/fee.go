package ports

// FeeSource serves the current recommended fee rate in sat/vB. Implementations
// refresh in the background and fall back to a configured default until the
// first successful refresh.
type FeeSource interface {
	RecommendedFeeRate() float64
	Stop()
}
