package policy

import "sync"

type (
	// SendPolicy decides whether the payer emits its next payment now.
	SendPolicy interface {
		ShouldSend() bool
	}

	// SendFunc adapts a function to SendPolicy.
	SendFunc func() bool

	// AlwaysSend sends every payment.
	AlwaysSend struct{}

	// ByteMeter allows one payment per BytesPerPayment delivered bytes.
	// The application reports deliveries through Delivered.
	ByteMeter struct {
		mu              sync.Mutex
		bytesPerPayment uint64
		delivered       uint64
	}
)

func (f SendFunc) ShouldSend() bool {
	return f()
}

func (AlwaysSend) ShouldSend() bool {
	return true
}

func NewByteMeter(bytesPerPayment uint64) *ByteMeter {
	return &ByteMeter{bytesPerPayment: bytesPerPayment}
}

func (m *ByteMeter) Delivered(n uint64) {
	m.mu.Lock()
	m.delivered += n
	m.mu.Unlock()
}

// ShouldSend consumes one payment worth of delivered bytes when available.
func (m *ByteMeter) ShouldSend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delivered < m.bytesPerPayment {
		return false
	}
	m.delivered -= m.bytesPerPayment
	return true
}

func (m *ByteMeter) Pending() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered
}
