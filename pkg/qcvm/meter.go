package qcvm

// DefaultRunawayLimit is the default statement budget of one invocation.
const DefaultRunawayLimit = 0x1000000

// Meter counts executed statements against a budget.
type Meter struct {
	remaining uint64
	limit     uint64
}

// NewMeter creates a meter with the given budget.
func NewMeter(limit uint64) *Meter {
	return &Meter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume charges cost statements.
func (m *Meter) Consume(cost uint64) error {
	if m.remaining < cost {
		m.remaining = 0
		return ErrRunaway
	}
	m.remaining -= cost
	return nil
}

// Remaining returns the remaining budget.
func (m *Meter) Remaining() uint64 {
	return m.remaining
}

// Used returns the consumed budget.
func (m *Meter) Used() uint64 {
	return m.limit - m.remaining
}
