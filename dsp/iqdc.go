package dsp

// DCTracker removes the DC offset of an IQ stream with a running mean.
// The averaging window doubles after every reset until it reaches one
// second of samples, so the estimate settles quickly at startup and then
// stays slow.
type DCTracker struct {
	sumX, sumY float64
	avgX, avgY float64
	cnt        uint32
	window     uint32
	maxWindow  uint32
}

// NewDCTracker builds a tracker for the given input sample rate (the rate
// the raw IQ arrives at, before any decimation).
func NewDCTracker(sampleRate int) *DCTracker {
	w := uint32(sampleRate / 256)
	if w < 1 {
		w = 1
	}
	return &DCTracker{window: w, maxWindow: uint32(sampleRate)}
}

// Apply subtracts the current DC estimate from one raw IQ sample and
// feeds the sample into the running mean.
func (t *DCTracker) Apply(x, y float64) complex128 {
	z := complex(x-float64(t.avgX), y-float64(t.avgY))
	t.sumX += x
	t.sumY += y
	t.cnt++
	if t.cnt == t.window {
		t.avgX = t.sumX / float64(t.window)
		t.avgY = t.sumY / float64(t.window)
		t.sumX, t.sumY = 0, 0
		t.cnt = 0
		if t.window < t.maxWindow {
			t.window *= 2
			if t.window > t.maxWindow {
				t.window = t.maxWindow
			}
		}
	}
	return z
}

// Offset returns the current DC estimate.
func (t *DCTracker) Offset() (x, y float64) { return t.avgX, t.avgY }
