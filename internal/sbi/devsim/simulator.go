// Package devsim simulates the configuration datastores of openroadm
// devices. It implements sbi.Client in-process and can be served over the
// device gRPC transport.
package devsim

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/r3labs/diff"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
	"github.com/signalsfoundry/lightpath-controller/internal/sbi"
	"github.com/signalsfoundry/lightpath-controller/model"
)

const historyLimit = 256

// ChangeEvent describes one applied configuration change.
type ChangeEvent struct {
	Node    string
	Path    sbi.Path
	Op      string
	Changes diff.Changelog
	At      time.Time
}

// Simulator is a set of simulated devices sharing one datastore.
type Simulator struct {
	store   *Store
	log     logging.Logger
	dataDir string

	// mu serialises mutations so change events are emitted in apply order.
	mu sync.Mutex

	faultMu sync.Mutex
	faults  []*Fault

	subsMu  sync.RWMutex
	subs    []func(ChangeEvent)
	history []ChangeEvent
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDataDir persists the datastore under dir. Devices added in an
// earlier run are mounted again on open.
func WithDataDir(dir string) Option {
	return func(s *Simulator) { s.dataDir = dir }
}

// New opens a simulator. The datastore is in memory unless WithDataDir is
// given.
func New(opts ...Option) (*Simulator, error) {
	s := &Simulator{log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	store, err := OpenStore(s.dataDir)
	if err != nil {
		return nil, err
	}
	s.store = store
	return s, nil
}

// Close releases the datastore.
func (s *Simulator) Close() error {
	return s.store.Close()
}

// AddDevice seeds a device datastore from an inventory snapshot.
func (s *Simulator) AddDevice(dev model.DeviceInventory) error {
	node := dev.Info.NodeID
	if node == "" {
		return fmt.Errorf("%w: device without node-id", model.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mountedLocked(node) {
		return fmt.Errorf("%w: device %q", model.ErrAlreadyExists, node)
	}
	put := func(list, key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = s.store.Put(node, list, key, raw)
		return err
	}
	for _, cp := range dev.CircuitPacks {
		if err := put(sbi.ListCircuitPacks, cp.Name, cp); err != nil {
			return err
		}
	}
	for _, d := range dev.Degrees {
		if err := put(sbi.ListDegree, strconv.Itoa(d.Number), d); err != nil {
			return err
		}
	}
	for _, g := range dev.SRGs {
		if err := put(sbi.ListSRG, strconv.Itoa(g.Number), g); err != nil {
			return err
		}
	}
	for _, intf := range dev.Interfaces {
		if err := put(sbi.ListInterface, intf.Name, intf); err != nil {
			return err
		}
	}
	if dev.Protocols != nil {
		if err := put(sbi.ListProtocols, "", dev.Protocols); err != nil {
			return err
		}
	}
	// info last: a device only counts as present once fully seeded.
	if err := put(sbi.ListInfo, "", dev.Info); err != nil {
		return err
	}
	s.log.Info(context.Background(), "simulated device added",
		logging.String("node_id", node),
		logging.String("node_type", dev.Info.NodeType),
	)
	return nil
}

// RemoveDevice drops a device and all of its configuration.
func (s *Simulator) RemoveDevice(node string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mountedLocked(node) {
		return fmt.Errorf("%w: %q", sbi.ErrNodeNotMounted, node)
	}
	return s.store.DropNode(node)
}

// Devices returns the ids of all simulated devices, sorted.
func (s *Simulator) Devices() []string {
	nodes, err := s.store.Nodes()
	if err != nil {
		return nil
	}
	out := nodes[:0]
	for _, n := range nodes {
		if s.mountedLocked(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// OnChange registers fn to receive every applied change.
func (s *Simulator) OnChange(fn func(ChangeEvent)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = append(s.subs, fn)
}

// History returns the most recent change events, oldest first.
func (s *Simulator) History() []ChangeEvent {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return append([]ChangeEvent(nil), s.history...)
}

func (s *Simulator) mountedLocked(node string) bool {
	_, err := s.store.Get(node, sbi.ListInfo, "")
	return err == nil
}

//
// ---------- sbi.Client ----------
//

// ReadConfig implements sbi.Client.
func (s *Simulator) ReadConfig(ctx context.Context, node string, p sbi.Path) (json.RawMessage, error) {
	if err := s.enter(ctx, "read", node, p); err != nil {
		return nil, err
	}
	if !s.mountedLocked(node) {
		return nil, fmt.Errorf("%w: %q", sbi.ErrNodeNotMounted, node)
	}

	if p.Key == "" && !p.Singleton() {
		values, err := s.store.List(node, p.List)
		if err != nil {
			return nil, err
		}
		items := make([]json.RawMessage, 0, len(values))
		for _, v := range values {
			items = append(items, v)
		}
		return json.Marshal(items)
	}
	raw, err := s.store.Get(node, p.List, p.Key)
	if err == errKeyNotFound {
		return nil, fmt.Errorf("%w: %s on %s", sbi.ErrNotFound, p, node)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// WriteConfig implements sbi.Client. Writing an existing key replaces it.
func (s *Simulator) WriteConfig(ctx context.Context, node string, p sbi.Path, value any) error {
	if err := s.enter(ctx, "write", node, p); err != nil {
		return err
	}
	if p.Key == "" && !p.Singleton() {
		return fmt.Errorf("%w: write to %s needs a key", model.ErrValidation, p.List)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", model.ErrValidation, p, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mountedLocked(node) {
		return fmt.Errorf("%w: %q", sbi.ErrNodeNotMounted, node)
	}
	if err := s.checkReferencesLocked(node, p, raw); err != nil {
		return err
	}
	prev, err := s.store.Put(node, p.List, p.Key, raw)
	if err != nil {
		return err
	}
	s.recordLocked(node, p, "write", prev, raw)
	return nil
}

// DeleteConfig implements sbi.Client.
func (s *Simulator) DeleteConfig(ctx context.Context, node string, p sbi.Path) error {
	if err := s.enter(ctx, "delete", node, p); err != nil {
		return err
	}
	if p.Key == "" && !p.Singleton() {
		return fmt.Errorf("%w: delete from %s needs a key", model.ErrValidation, p.List)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mountedLocked(node) {
		return fmt.Errorf("%w: %q", sbi.ErrNodeNotMounted, node)
	}
	prev, err := s.store.Delete(node, p.List, p.Key)
	if err == errKeyNotFound {
		return fmt.Errorf("%w: %s on %s", sbi.ErrNotFound, p, node)
	}
	if err != nil {
		return err
	}
	s.recordLocked(node, p, "delete", prev, nil)
	return nil
}

// enter validates the path and applies any matching fault.
func (s *Simulator) enter(ctx context.Context, op, node string, p sbi.Path) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDeviceCommunication, err)
	}
	return s.applyFault(ctx, op, node, p)
}

// checkReferencesLocked rejects objects pointing at things the device does
// not have: interfaces need their circuit pack, connections their interfaces.
func (s *Simulator) checkReferencesLocked(node string, p sbi.Path, raw []byte) error {
	switch p.List {
	case sbi.ListInterface:
		var intf model.Interface
		if err := json.Unmarshal(raw, &intf); err != nil {
			return fmt.Errorf("%w: decode interface: %v", model.ErrValidation, err)
		}
		if intf.Name != p.Key {
			return fmt.Errorf("%w: interface name %q does not match key %q", model.ErrValidation, intf.Name, p.Key)
		}
		if intf.SupportingCircuitPack != "" {
			if _, err := s.store.Get(node, sbi.ListCircuitPacks, intf.SupportingCircuitPack); err != nil {
				return fmt.Errorf("%w: interface %q references unknown circuit pack %q", model.ErrValidation, intf.Name, intf.SupportingCircuitPack)
			}
		}
		if intf.SupportingInterface != "" {
			if _, err := s.store.Get(node, sbi.ListInterface, intf.SupportingInterface); err != nil {
				return fmt.Errorf("%w: interface %q references unknown interface %q", model.ErrValidation, intf.Name, intf.SupportingInterface)
			}
		}
	case sbi.ListRoadmConnections:
		var xc model.RoadmConnection
		if err := json.Unmarshal(raw, &xc); err != nil {
			return fmt.Errorf("%w: decode roadm-connection: %v", model.ErrValidation, err)
		}
		for _, ifName := range []string{xc.Source.SrcIf, xc.Destination.DstIf} {
			if _, err := s.store.Get(node, sbi.ListInterface, ifName); err != nil {
				return fmt.Errorf("%w: connection %q references unknown interface %q", model.ErrValidation, p.Key, ifName)
			}
		}
	}
	return nil
}

func (s *Simulator) recordLocked(node string, p sbi.Path, op string, before, after []byte) {
	ev := ChangeEvent{Node: node, Path: p, Op: op, At: time.Now()}
	from, to := decodeGeneric(before), decodeGeneric(after)
	changes, err := diff.Diff(from, to)
	if err != nil {
		s.log.Warn(context.Background(), "change diff failed",
			logging.String("node_id", node),
			logging.String("path", p.String()),
			logging.Err(err),
		)
	}
	ev.Changes = changes

	s.subsMu.Lock()
	s.history = append(s.history, ev)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	subs := append([]func(ChangeEvent){}, s.subs...)
	s.subsMu.Unlock()

	s.log.Debug(context.Background(), "device configuration changed",
		logging.String("node_id", node),
		logging.String("op", op),
		logging.String("path", p.String()),
		logging.Int("changes", len(changes)),
	)
	for _, fn := range subs {
		fn(ev)
	}
}

func decodeGeneric(raw []byte) map[string]interface{} {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
