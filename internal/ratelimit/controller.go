package ratelimit

import (
	"math"
	"sync"
	"time"
)

// CubicConfig holds the tunables for the send-rate controller. Zero
// values are replaced by the package defaults in NewRateController.
type CubicConfig struct {
	RateIntervalMs  int64   // width of one send/receive slot; default 20
	MaxTokens       float64 // SendLimiter cap; default 200
	Beta            float64 // multiplicative decrease factor; default 0.2
	C               float64 // cubic coefficient; default 4e-6
	SMax            float64 // per-step increase cap; default 10
	HysteresisFactor float64 // multiplier on interval; default 4
}

// DefaultCubicConfig returns the package's recommended starting tunables.
func DefaultCubicConfig() CubicConfig {
	return CubicConfig{
		RateIntervalMs:   20,
		MaxTokens:        200,
		Beta:             0.2,
		C:                4e-6,
		SMax:             10,
		HysteresisFactor: 4,
	}
}

func (c CubicConfig) withDefaults() CubicConfig {
	d := DefaultCubicConfig()
	if c.RateIntervalMs <= 0 {
		c.RateIntervalMs = d.RateIntervalMs
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Beta <= 0 {
		c.Beta = d.Beta
	}
	if c.C <= 0 {
		c.C = d.C
	}
	if c.SMax <= 0 {
		c.SMax = d.SMax
	}
	if c.HysteresisFactor <= 0 {
		c.HysteresisFactor = d.HysteresisFactor
	}
	return c
}

// RateController owns one SendLimiter and one ReceiveRateTracker per
// endpoint and runs the CUBIC update that retargets the send rate
// whenever a reply arrives.
type RateController struct {
	mu sync.Mutex

	Limiter *SendLimiter
	Receive *ReceiveRateTracker

	cfg CubicConfig

	rMax  float64
	tDec  int64 // wall-ms of last decrease
	tInc  int64 // wall-ms of last increase
}

// NewRateController builds a controller with an initial send rate of 1.
// A freshly created controller's first TryAcquire is granted immediately
// because the initial token balance equals MaxTokens.
func NewRateController(cfg CubicConfig) *RateController {
	cfg = cfg.withDefaults()
	interval := time.Duration(cfg.RateIntervalMs) * time.Millisecond
	return &RateController{
		Limiter: NewSendLimiter(1, cfg.MaxTokens, interval),
		Receive: NewReceiveRateTracker(cfg.RateIntervalMs),
		cfg:     cfg,
	}
}

// UpdateCubic re-targets the send rate from the current send/receive
// rates. Call this once per reply.
func (c *RateController) UpdateCubic() {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.Limiter.Rate()
	rr := c.Receive.CurrentRate()
	now := time.Now().UnixMilli()

	hysteresisMs := int64(float64(c.cfg.RateIntervalMs) * c.cfg.HysteresisFactor)

	switch {
	case rs > rr && now-c.tInc > hysteresisMs:
		// Overshoot: we were sending faster than replies were coming
		// back. Back off hard and remember the rate we backed off from.
		c.rMax = rs
		c.Limiter.SetRate(math.Max(rs*c.cfg.Beta, minRate))
		c.tDec = now

	case rs < rr:
		// Probing: replies are arriving faster than we're sending, so
		// there's headroom. Grow along the cubic curve anchored at the
		// last overshoot, capped to avoid a single-step runaway.
		t := float64(now - c.tDec)
		c.tInc = now

		k := math.Cbrt(c.rMax * c.cfg.Beta / c.cfg.C)
		rNew := c.cfg.C*math.Pow(t-k, 3) + c.rMax

		if rNew-rs > c.cfg.SMax {
			c.Limiter.SetRate(rs + c.cfg.SMax)
		} else {
			c.Limiter.SetRate(rNew)
		}

	default:
		// rs == rr, or rs > rr but still within hysteresis: no-op.
	}
}
