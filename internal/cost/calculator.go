package cost

// Rates holds per-method extraction pricing configuration.
type Rates struct {
	// Methods maps an extraction method tag to its pricing.
	Methods map[string]MethodRate `yaml:"methods" mapstructure:"methods"`
	// BandwidthPerGB prices transferred page bytes, applied on top of the
	// per-call rate for every method.
	BandwidthPerGB float64 `yaml:"bandwidth_per_gb" mapstructure:"bandwidth_per_gb"`
}

// MethodRate holds pricing for one extraction method.
type MethodRate struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// Calculator computes estimated spend for extraction calls.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Call computes the cost of a single extraction call: the method's per-call
// rate plus bandwidth for the fetched page. Unknown methods cost only
// bandwidth.
func (c *Calculator) Call(method string, pageSizeBytes int64) float64 {
	cost := (float64(pageSizeBytes) / 1e9) * c.rates.BandwidthPerGB
	if rate, ok := c.rates.Methods[method]; ok {
		cost += rate.PerCall
	}
	return cost
}

// Aggregate computes the cost of calls grouped by method, as produced by
// the batch usage query.
func (c *Calculator) Aggregate(method string, calls int, totalBytes int64) float64 {
	cost := (float64(totalBytes) / 1e9) * c.rates.BandwidthPerGB
	if rate, ok := c.rates.Methods[method]; ok {
		cost += rate.PerCall * float64(calls)
	}
	return cost
}

// DefaultRates returns the default extraction pricing.
func DefaultRates() Rates {
	return Rates{
		Methods: map[string]MethodRate{
			"dom_heuristic": {PerCall: 0},
			"llm":           {PerCall: 0.004},
			"headless":      {PerCall: 0.002},
		},
		BandwidthPerGB: 0.09,
	}
}
