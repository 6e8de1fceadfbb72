package devsim

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// Fault makes matching device calls fail or stall. Empty match fields match
// anything; Times <= 0 means the fault never expires.
type Fault struct {
	Node  string
	Op    string // read, write or delete
	List  string
	Key   string
	Times int
	// Err is returned by matching calls. Nil with a zero Delay injects a
	// device communication failure.
	Err   error
	Delay time.Duration

	hits int
}

func (f *Fault) matches(op, node string, p sbi.Path) bool {
	return (f.Node == "" || f.Node == node) &&
		(f.Op == "" || f.Op == op) &&
		(f.List == "" || f.List == p.List) &&
		(f.Key == "" || f.Key == p.Key)
}

func (f *Fault) spent() bool {
	return f.Times > 0 && f.hits >= f.Times
}

// InjectFault arms f until it has fired f.Times times.
func (s *Simulator) InjectFault(f Fault) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	fc := f
	s.faults = append(s.faults, &fc)
}

// ClearFaults disarms every fault.
func (s *Simulator) ClearFaults() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = nil
}

func (s *Simulator) applyFault(ctx context.Context, op, node string, p sbi.Path) error {
	s.faultMu.Lock()
	var hit *Fault
	kept := s.faults[:0]
	for _, f := range s.faults {
		if hit == nil && f.matches(op, node, p) {
			hit = f
			f.hits++
		}
		if !f.spent() {
			kept = append(kept, f)
		}
	}
	s.faults = kept
	var (
		delay time.Duration
		err   error
	)
	if hit != nil {
		delay, err = hit.Delay, hit.Err
	}
	s.faultMu.Unlock()

	if hit == nil {
		return nil
	}
	s.log.Debug(ctx, "injected fault fired",
		logging.String("node_id", node),
		logging.String("op", op),
		logging.String("path", p.String()),
	)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s %s on %s: %v", model.ErrDeviceCommunication, op, p, node, ctx.Err())
		case <-timer.C:
		}
	}
	if err == nil && delay == 0 {
		err = fmt.Errorf("%w: injected %s failure on %s %s", model.ErrDeviceCommunication, op, node, p)
	}
	return err
}
