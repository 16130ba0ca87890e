package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/txrisk/internal/circuitbreaker"
	"github.com/mbd888/txrisk/internal/transaction"
)

// ErrNoDeviceID is returned by signals that key on the device identifier.
var ErrNoDeviceID = errors.New("risk: transaction has no device id")

// DeviceSignal supplies the device factor. Implementations return an anomaly
// score in [0, 100] for tx given the same history snapshot the calculator
// sees. An error, NaN or out-of-range value never fails the assessment: the
// calculator logs it and clamps (errors and NaN count as 0).
type DeviceSignal interface {
	DeviceRisk(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) (float64, error)
}

// DeviceSignalFunc adapts a function to DeviceSignal.
type DeviceSignalFunc func(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) (float64, error)

func (f DeviceSignalFunc) DeviceRisk(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) (float64, error) {
	return f(ctx, tx, history)
}

// NoDeviceSignal reports zero device risk for every transaction.
type NoDeviceSignal struct{}

func (NoDeviceSignal) DeviceRisk(context.Context, transaction.Transaction, []transaction.Transaction) (float64, error) {
	return 0, nil
}

// HistoryDeviceSignal scores device novelty against the user's recent history.
// No prior history for the user = 0 (cold start), device seen before =
// KnownScore, device never seen = UnseenScore.
type HistoryDeviceSignal struct {
	UnseenScore float64
	KnownScore  float64
}

// NewHistoryDeviceSignal returns a novelty signal with the reference scores.
func NewHistoryDeviceSignal() HistoryDeviceSignal {
	return HistoryDeviceSignal{UnseenScore: 70, KnownScore: 10}
}

func (s HistoryDeviceSignal) DeviceRisk(_ context.Context, tx transaction.Transaction, history []transaction.Transaction) (float64, error) {
	if tx.Device.ID == "" {
		return 0, ErrNoDeviceID
	}
	prior := 0
	for _, h := range history {
		if h.UserID != tx.UserID || h.ID == tx.ID {
			continue
		}
		prior++
		if h.Device.ID == tx.Device.ID {
			return s.KnownScore, nil
		}
	}
	if prior == 0 {
		return 0, nil
	}
	return s.UnseenScore, nil
}

// BreakerDeviceSignal wraps a remote or flaky signal. Once the wrapped signal
// keeps failing, calls are skipped until the breaker's cooldown elapses and
// the calculator sees circuitbreaker.ErrOpen (device factor 0).
type BreakerDeviceSignal struct {
	signal  DeviceSignal
	breaker *circuitbreaker.Breaker
	key     string
}

// NewBreakerDeviceSignal guards signal under key on breaker.
func NewBreakerDeviceSignal(signal DeviceSignal, breaker *circuitbreaker.Breaker, key string) *BreakerDeviceSignal {
	return &BreakerDeviceSignal{signal: signal, breaker: breaker, key: key}
}

// DeviceRisk rejects a transaction without a device id before consulting the
// breaker, so bad input never changes circuit state.
func (s *BreakerDeviceSignal) DeviceRisk(ctx context.Context, tx transaction.Transaction, history []transaction.Transaction) (float64, error) {
	if tx.Device.ID == "" {
		return 0, fmt.Errorf("device signal %s: %w", s.key, ErrNoDeviceID)
	}
	var v float64
	err := s.breaker.Do(s.key, func() error {
		var err error
		v, err = s.signal.DeviceRisk(ctx, tx, history)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("device signal %s: %w", s.key, err)
	}
	return v, nil
}

var (
	_ DeviceSignal = NoDeviceSignal{}
	_ DeviceSignal = (*BreakerDeviceSignal)(nil)
	_ DeviceSignal = HistoryDeviceSignal{}
	_ DeviceSignal = DeviceSignalFunc(nil)
)
