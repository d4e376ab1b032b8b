package market

import (
	"context"
	"sync"

	"signal-trader/pkg/exchanges/common"
)

// MockStream is an in-memory StreamAPI for tests and local runs. Every
// successful subscribe creates a MockSubscription delivered on Opened.
type MockStream struct {
	mu       sync.Mutex
	failures map[Kind][]error
	calls    map[Kind]int
	opened   chan *MockSubscription
}

// NewMockStream creates a mock with room for buffer pending subscriptions.
func NewMockStream(buffer int) *MockStream {
	return &MockStream{
		failures: make(map[Kind][]error),
		calls:    make(map[Kind]int),
		opened:   make(chan *MockSubscription, buffer),
	}
}

// FailNext queues errors returned by the next subscribe calls of kind.
func (m *MockStream) FailNext(kind Kind, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind] = append(m.failures[kind], errs...)
}

// Calls counts subscribe calls of kind, failed ones included.
func (m *MockStream) Calls(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[kind]
}

// Opened yields subscriptions in the order they were created.
func (m *MockStream) Opened() <-chan *MockSubscription { return m.opened }

func (m *MockStream) SubscribeCandles(ctx context.Context, args []common.StreamArg) (common.Subscription, error) {
	return m.open(ctx, KindCandles, args)
}

func (m *MockStream) SubscribeTicks(ctx context.Context, args []common.StreamArg) (common.Subscription, error) {
	return m.open(ctx, KindTicks, args)
}

func (m *MockStream) open(ctx context.Context, kind Kind, args []common.StreamArg) (common.Subscription, error) {
	m.mu.Lock()
	m.calls[kind]++
	if q := m.failures[kind]; len(q) > 0 {
		err := q[0]
		m.failures[kind] = q[1:]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	s := &MockSubscription{
		Kind: kind,
		Args: args,
		ch:   make(chan common.StreamMessage, 16),
		done: make(chan struct{}),
	}
	context.AfterFunc(ctx, func() { _ = s.Close() })
	select {
	case m.opened <- s:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s, nil
}

// MockSubscription is a scripted subscription.
type MockSubscription struct {
	Kind Kind
	Args []common.StreamArg

	ch     chan common.StreamMessage
	done   chan struct{}
	once   sync.Once
	sendMu sync.RWMutex
	mu     sync.Mutex
	err    error
}

// Push delivers msg to the reader. It returns false once the subscription ended.
func (s *MockSubscription) Push(msg common.StreamMessage) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	}
}

// End terminates the subscription with err.
func (s *MockSubscription) End(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// Drop simulates a network failure.
func (s *MockSubscription) Drop() {
	s.End(&common.StreamClosedError{Code: 1006, Reason: "connection reset"})
}

// Done is closed once the subscription ended.
func (s *MockSubscription) Done() <-chan struct{} { return s.done }

func (s *MockSubscription) Messages() <-chan common.StreamMessage { return s.ch }

func (s *MockSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MockSubscription) Close() error {
	s.End(&common.StreamClosedError{Code: common.CloseNoStatus, Reason: "closed by client"})
	return nil
}
