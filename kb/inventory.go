// Package kb holds the resource inventory: per topology node, per
// termination point, the wavelength slots currently in use.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// EventType indicates what kind of change happened in the inventory.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
	EventReserved
	EventReleased
)

// Event is emitted to subscribers after a mutation has been applied.
type Event struct {
	Type       EventType
	Node       string
	Owner      string
	Wavelength int
	// Used is the number of used entries on Node after the change.
	Used int
}

// Claim names one termination point taking part in a reservation.
type Claim struct {
	Node string
	TP   string
}

func (c Claim) String() string { return c.Node + "/" + c.TP }

type usedEntry struct {
	slot  model.WavelengthSlot
	owner string
}

type tpRecord struct {
	role model.TPRole
	used map[int]usedEntry
}

type nodeRecord struct {
	mu  sync.Mutex
	tps map[string]*tpRecord
}

func (n *nodeRecord) usedCountLocked() int {
	count := 0
	for _, tp := range n.tps {
		count += len(tp.used)
	}
	return count
}

// Inventory is an in-memory, concurrency-safe record of wavelength usage.
//
// Lock ordering: Inventory.mu (read) is taken before any nodeRecord.mu, and
// node locks are always acquired in ascending node id order.
type Inventory struct {
	mu    sync.RWMutex
	grid  model.Grid
	nodes map[string]*nodeRecord

	subsMu sync.RWMutex
	subs   []func(Event)
}

// NewInventory constructs an empty inventory over grid.
func NewInventory(grid model.Grid) *Inventory {
	return &Inventory{
		grid:  grid,
		nodes: make(map[string]*nodeRecord),
	}
}

// Grid returns the wavelength grid the inventory allocates from.
func (inv *Inventory) Grid() model.Grid { return inv.grid }

// Subscribe registers a callback invoked after every mutation.
func (inv *Inventory) Subscribe(fn func(Event)) {
	inv.subsMu.Lock()
	defer inv.subsMu.Unlock()
	inv.subs = append(inv.subs, fn)
}

func (inv *Inventory) emit(events ...Event) {
	inv.subsMu.RLock()
	subs := append([]func(Event){}, inv.subs...)
	inv.subsMu.RUnlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// AddNode registers a topology sub-node and its termination points with an
// empty used set.
func (inv *Inventory) AddNode(n model.SubNode) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty node id", model.ErrValidation)
	}
	rec := &nodeRecord{tps: make(map[string]*tpRecord, len(n.TerminationPoints))}
	for _, tp := range n.TerminationPoints {
		rec.tps[tp.ID] = &tpRecord{role: tp.Role, used: make(map[int]usedEntry)}
	}

	inv.mu.Lock()
	if _, exists := inv.nodes[n.ID]; exists {
		inv.mu.Unlock()
		return fmt.Errorf("%w: inventory node %q", model.ErrAlreadyExists, n.ID)
	}
	inv.nodes[n.ID] = rec
	inv.mu.Unlock()

	inv.emit(Event{Type: EventNodeAdded, Node: n.ID})
	return nil
}

// RemoveNode drops a node. It refuses while any wavelength is in use there.
func (inv *Inventory) RemoveNode(id string) error {
	inv.mu.Lock()
	rec, ok := inv.nodes[id]
	if !ok {
		inv.mu.Unlock()
		return fmt.Errorf("%w: inventory node %q", model.ErrNotFound, id)
	}
	rec.mu.Lock()
	used := rec.usedCountLocked()
	rec.mu.Unlock()
	if used > 0 {
		inv.mu.Unlock()
		return fmt.Errorf("%w: node %q has %d wavelengths in use", model.ErrResourceConflict, id, used)
	}
	delete(inv.nodes, id)
	inv.mu.Unlock()

	inv.emit(Event{Type: EventNodeRemoved, Node: id})
	return nil
}

// HasNode reports whether id is registered.
func (inv *Inventory) HasNode(id string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.nodes[id]
	return ok
}

// Reserve marks wavelength as used on every claimed TP on behalf of owner.
// Either every claim is applied or none is.
func (inv *Inventory) Reserve(owner string, wavelength int, claims ...Claim) error {
	slot, err := inv.grid.Slot(wavelength)
	if err != nil {
		return err
	}
	claims = dedupe(claims)
	if len(claims) == 0 {
		return fmt.Errorf("%w: reservation without claims", model.ErrValidation)
	}

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	records, err := inv.resolveLocked(claims)
	if err != nil {
		return err
	}
	unlock := lockAll(records)

	tps := make([]*tpRecord, len(claims))
	for i, c := range claims {
		tp := records[c.Node].tps[c.TP]
		if !tp.role.CarriesWavelength() {
			unlock()
			return fmt.Errorf("%w: %s (%s) does not carry wavelengths", model.ErrValidation, c, tp.role)
		}
		if held, ok := tp.used[wavelength]; ok {
			unlock()
			return fmt.Errorf("%w: wavelength %d already used on %s by %q", model.ErrResourceConflict, wavelength, c, held.owner)
		}
		if tp.role.SingleSlot() && len(tp.used) > 0 {
			unlock()
			return fmt.Errorf("%w: %s already carries a wavelength", model.ErrResourceConflict, c)
		}
		tps[i] = tp
	}
	for _, tp := range tps {
		tp.used[wavelength] = usedEntry{slot: slot, owner: owner}
	}
	events := inv.eventsLocked(EventReserved, owner, wavelength, records)
	unlock()

	inv.emit(events...)
	return nil
}

// Release clears wavelength from every claimed TP. Every claim must be
// currently reserved by owner or nothing is changed.
func (inv *Inventory) Release(owner string, wavelength int, claims ...Claim) error {
	if !inv.grid.Valid(wavelength) {
		return fmt.Errorf("%w: wavelength %d outside grid", model.ErrValidation, wavelength)
	}
	claims = dedupe(claims)

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	records, err := inv.resolveLocked(claims)
	if err != nil {
		return err
	}
	unlock := lockAll(records)

	for _, c := range claims {
		entry, ok := records[c.Node].tps[c.TP].used[wavelength]
		if !ok {
			unlock()
			return fmt.Errorf("%w: wavelength %d is not reserved on %s", model.ErrInvariantViolation, wavelength, c)
		}
		if entry.owner != owner {
			unlock()
			return fmt.Errorf("%w: wavelength %d on %s is held by %q, not %q", model.ErrInvariantViolation, wavelength, c, entry.owner, owner)
		}
	}
	for _, c := range claims {
		delete(records[c.Node].tps[c.TP].used, wavelength)
	}
	events := inv.eventsLocked(EventReleased, owner, wavelength, records)
	unlock()

	inv.emit(events...)
	return nil
}

// ReleaseOwned clears wavelength from the claimed TPs where owner holds it and
// ignores the rest. It returns the number of entries released. Unknown nodes
// and TPs are skipped.
func (inv *Inventory) ReleaseOwned(owner string, wavelength int, claims ...Claim) int {
	claims = dedupe(claims)

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	records := make(map[string]*nodeRecord)
	for _, c := range claims {
		if rec, ok := inv.nodes[c.Node]; ok {
			records[c.Node] = rec
		}
	}
	unlock := lockAll(records)

	released := 0
	for _, c := range claims {
		rec, ok := records[c.Node]
		if !ok {
			continue
		}
		tp, ok := rec.tps[c.TP]
		if !ok {
			continue
		}
		if entry, ok := tp.used[wavelength]; ok && entry.owner == owner {
			delete(tp.used, wavelength)
			released++
		}
	}
	var events []Event
	if released > 0 {
		events = inv.eventsLocked(EventReleased, owner, wavelength, records)
	}
	unlock()

	inv.emit(events...)
	return released
}

// AvailableWavelengths returns the grid minus the union of used sets of the
// node's termination points, ascending.
func (inv *Inventory) AvailableWavelengths(node string) ([]int, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	rec, ok := inv.nodes[node]
	if !ok {
		return nil, fmt.Errorf("%w: inventory node %q", model.ErrNotFound, node)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return availableLocked(inv.grid, rec), nil
}

// Used returns the used slots on one termination point, ascending by index.
func (inv *Inventory) Used(node, tp string) ([]model.WavelengthSlot, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	rec, ok := inv.nodes[node]
	if !ok {
		return nil, fmt.Errorf("%w: inventory node %q", model.ErrNotFound, node)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	t, ok := rec.tps[tp]
	if !ok {
		return nil, fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, node, tp)
	}
	return sortedSlots(t.used), nil
}

// Busy reports whether a single-slot termination point currently carries a
// wavelength.
func (inv *Inventory) Busy(node, tp string) (bool, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	rec, ok := inv.nodes[node]
	if !ok {
		return false, fmt.Errorf("%w: inventory node %q", model.ErrNotFound, node)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	t, ok := rec.tps[tp]
	if !ok {
		return false, fmt.Errorf("%w: termination point %s/%s", model.ErrNotFound, node, tp)
	}
	return t.role.SingleSlot() && len(t.used) > 0, nil
}

// NodeUsage is a point-in-time copy of one node's inventory.
type NodeUsage struct {
	Node      string
	Roles     map[string]model.TPRole
	Used      map[string][]model.WavelengthSlot
	Owners    map[string]map[int]string
	Available []int
}

// Busy reports whether tp is a single-slot TP carrying a wavelength.
func (u NodeUsage) Busy(tp string) bool {
	return u.Roles[tp].SingleSlot() && len(u.Used[tp]) > 0
}

// Snapshot returns a consistent copy of every node's usage.
func (inv *Inventory) Snapshot() map[string]NodeUsage {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	unlock := lockAll(inv.nodes)
	defer unlock()

	out := make(map[string]NodeUsage, len(inv.nodes))
	for id, rec := range inv.nodes {
		usage := NodeUsage{
			Node:      id,
			Roles:     make(map[string]model.TPRole, len(rec.tps)),
			Used:      make(map[string][]model.WavelengthSlot),
			Owners:    make(map[string]map[int]string),
			Available: availableLocked(inv.grid, rec),
		}
		for tpID, tp := range rec.tps {
			usage.Roles[tpID] = tp.role
			if len(tp.used) == 0 {
				continue
			}
			usage.Used[tpID] = sortedSlots(tp.used)
			owners := make(map[int]string, len(tp.used))
			for idx, e := range tp.used {
				owners[idx] = e.owner
			}
			usage.Owners[tpID] = owners
		}
		out[id] = usage
	}
	return out
}

// Audit verifies that, for every node, used and available sets partition the
// grid and single-slot TPs carry at most one wavelength.
func (inv *Inventory) Audit() error {
	var errs []error
	for id, usage := range inv.Snapshot() {
		union := make(map[int]bool)
		for tp, slots := range usage.Used {
			if usage.Roles[tp].SingleSlot() && len(slots) > 1 {
				errs = append(errs, fmt.Errorf("%w: single-slot %s/%s carries %d wavelengths", model.ErrInvariantViolation, id, tp, len(slots)))
			}
			for _, s := range slots {
				want, err := inv.grid.Slot(s.Index)
				if err != nil || want != s {
					errs = append(errs, fmt.Errorf("%w: %s/%s holds off-grid slot %+v", model.ErrInvariantViolation, id, tp, s))
				}
				union[s.Index] = true
			}
		}
		for _, idx := range usage.Available {
			if union[idx] {
				errs = append(errs, fmt.Errorf("%w: %s lists wavelength %d as both used and available", model.ErrInvariantViolation, id, idx))
			}
		}
		if len(union)+len(usage.Available) != inv.grid.Channels() {
			errs = append(errs, fmt.Errorf("%w: %s used/available do not cover the grid", model.ErrInvariantViolation, id))
		}
	}
	return errors.Join(errs...)
}

func (inv *Inventory) resolveLocked(claims []Claim) (map[string]*nodeRecord, error) {
	records := make(map[string]*nodeRecord)
	for _, c := range claims {
		rec, ok := inv.nodes[c.Node]
		if !ok {
			return nil, fmt.Errorf("%w: inventory node %q", model.ErrNotFound, c.Node)
		}
		if _, ok := rec.tps[c.TP]; !ok {
			return nil, fmt.Errorf("%w: termination point %s", model.ErrNotFound, c)
		}
		records[c.Node] = rec
	}
	return records, nil
}

// eventsLocked must be called with every record in records locked.
func (inv *Inventory) eventsLocked(t EventType, owner string, wavelength int, records map[string]*nodeRecord) []Event {
	events := make([]Event, 0, len(records))
	for _, id := range sortedKeys(records) {
		events = append(events, Event{
			Type:       t,
			Node:       id,
			Owner:      owner,
			Wavelength: wavelength,
			Used:       records[id].usedCountLocked(),
		})
	}
	return events
}

func lockAll(records map[string]*nodeRecord) func() {
	ids := sortedKeys(records)
	for _, id := range ids {
		records[id].mu.Lock()
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			records[ids[i]].mu.Unlock()
		}
	}
}

func availableLocked(grid model.Grid, rec *nodeRecord) []int {
	used := make(map[int]bool)
	for _, tp := range rec.tps {
		for idx := range tp.used {
			used[idx] = true
		}
	}
	out := make([]int, 0, grid.Channels()-len(used))
	for _, idx := range grid.Indices() {
		if !used[idx] {
			out = append(out, idx)
		}
	}
	return out
}

func sortedSlots(used map[int]usedEntry) []model.WavelengthSlot {
	out := make([]model.WavelengthSlot, 0, len(used))
	for _, e := range used {
		out = append(out, e.slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func sortedKeys(records map[string]*nodeRecord) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dedupe(claims []Claim) []Claim {
	seen := make(map[Claim]bool, len(claims))
	out := claims[:0:0]
	for _, c := range claims {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
