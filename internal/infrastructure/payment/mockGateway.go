package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is an in-process processor for local runs, simulations and tests.
// It honours idempotency keys the way real processors do.
type MockGateway struct {
	mu       sync.RWMutex
	byKey    map[string]string
	statuses map[string]RemoteStatus
	failNext []error

	// Chaos, when set, injects random declines and slow calls into CreatePaymentIntent.
	chaos   bool
	latency time.Duration
}

type MockOption func(*MockGateway)

// WithChaos makes 20% of new intents fail with a decline and 10% hang for `latency`
// before succeeding, which surfaces as a timeout to callers with a shorter deadline.
func WithChaos(latency time.Duration) MockOption {
	return func(g *MockGateway) {
		g.chaos = true
		g.latency = latency
	}
}

func NewMockGateway(opts ...MockOption) *MockGateway {
	g := &MockGateway{
		byKey:    make(map[string]string),
		statuses: make(map[string]RemoteStatus),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FailNext queues an error returned by the next CreatePaymentIntent call.
func (g *MockGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = append(g.failNext, err)
}

// Settle moves an intent to a new remote status, as the processor would after customer action.
func (g *MockGateway) Settle(correlationID string, status RemoteStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.statuses[correlationID]; !ok {
		return fmt.Errorf("mock gateway: unknown intent %s", correlationID)
	}
	g.statuses[correlationID] = status
	return nil
}

// Intents returns the number of distinct intents created.
func (g *MockGateway) Intents() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.statuses)
}

func (g *MockGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, &RejectedError{Reason: "amount must be positive"}
	}

	g.mu.Lock()
	if id, exists := g.byKey[req.IdempotencyKey]; exists && req.IdempotencyKey != "" {
		status := g.statuses[id]
		g.mu.Unlock()
		return mockIntent(id, status), nil
	}
	if len(g.failNext) > 0 {
		err := g.failNext[0]
		g.failNext = g.failNext[1:]
		g.mu.Unlock()
		return Intent{}, err
	}
	g.mu.Unlock()

	if g.chaos {
		chance := rand.IntN(100)
		switch {
		case chance < 70:
		case chance < 90:
			return Intent{}, &RejectedError{Reason: "card declined"}
		default:
			// The processor still records the charge even though the caller gives up waiting.
			id := g.record(req.IdempotencyKey)
			select {
			case <-time.After(g.latency):
				return mockIntent(id, RemotePending), nil
			case <-ctx.Done():
				return Intent{}, ctx.Err()
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	id := g.record(req.IdempotencyKey)
	return mockIntent(id, RemotePending), nil
}

func (g *MockGateway) record(key string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, exists := g.byKey[key]; exists && key != "" {
		return id
	}
	id := "mock_" + uuid.NewString()
	g.statuses[id] = RemotePending
	if key != "" {
		g.byKey[key] = id
	}
	return id
}

func (g *MockGateway) PaymentStatus(ctx context.Context, correlationID string) (RemoteStatus, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	status, exists := g.statuses[correlationID]
	if !exists {
		return "", &RejectedError{Reason: fmt.Sprintf("unknown intent %s", correlationID)}
	}
	return status, nil
}

func mockIntent(id string, status RemoteStatus) Intent {
	return Intent{
		CorrelationID:   id,
		ConfirmationURL: "https://pay.example.test/confirm/" + id,
		Status:          status,
	}
}
