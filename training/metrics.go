package training

// Meter accumulates a running loss total over a variable number of
// samples, so epoch averages stay correct when the final batch is short.
type Meter struct {
	sum   float64
	count int
}

// Add records a summed value covering n samples.
func (m *Meter) Add(value float64, n int) {
	m.sum += value
	m.count += n
}

// Average returns the per-sample average, or 0 before any Add.
func (m *Meter) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns the number of samples recorded.
func (m *Meter) Count() int { return m.count }

// Reset clears the meter.
func (m *Meter) Reset() {
	m.sum = 0
	m.count = 0
}
