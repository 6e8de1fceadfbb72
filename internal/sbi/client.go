// Package sbi is the southbound device-management interface: reading and
// writing the configuration datastore of managed optical devices.
package sbi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// Lists of the org-openroadm-device configuration tree.
const (
	ListInfo             = "info"
	ListInterface        = "interface"
	ListRoadmConnections = "roadm-connections"
	ListCircuitPacks     = "circuit-packs"
	ListDegree           = "degree"
	ListSRG              = "shared-risk-group"
	ListProtocols        = "protocols"
)

var (
	// ErrNotFound means the addressed object does not exist on the device.
	ErrNotFound = fmt.Errorf("%w: device object", model.ErrNotFound)
	// ErrNodeNotMounted means the device is unknown to the device layer.
	ErrNodeNotMounted = fmt.Errorf("%w: node not mounted", model.ErrNotFound)
)

// Path addresses a list entry of the device configuration, or the whole list
// when Key is empty. info and protocols are singletons addressed without a key.
type Path struct {
	List string
	Key  string
}

func (p Path) String() string {
	if p.Key == "" {
		return p.List
	}
	return p.List + "/" + p.Key
}

// Validate rejects paths naming an unknown list.
func (p Path) Validate() error {
	switch p.List {
	case ListInfo, ListProtocols:
		if p.Key != "" {
			return fmt.Errorf("%w: %s is not keyed", model.ErrValidation, p.List)
		}
		return nil
	case ListInterface, ListRoadmConnections, ListCircuitPacks, ListDegree, ListSRG:
		if strings.Contains(p.Key, "\x00") {
			return fmt.Errorf("%w: key contains NUL", model.ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown device list %q", model.ErrValidation, p.List)
	}
}

// Singleton reports whether the path addresses a keyless container.
func (p Path) Singleton() bool {
	return p.List == ListInfo || p.List == ListProtocols
}

// Client is the device-management collaborator. Values are JSON-encoded
// device objects; reading a list without a key returns a JSON array.
type Client interface {
	ReadConfig(ctx context.Context, node string, p Path) (json.RawMessage, error)
	WriteConfig(ctx context.Context, node string, p Path, value any) error
	DeleteConfig(ctx context.Context, node string, p Path) error
}

// Read decodes the object at p into a T.
func Read[T any](ctx context.Context, c Client, node string, p Path) (T, error) {
	var out T
	raw, err := c.ReadConfig(ctx, node, p)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s on %s: %w", p, node, err)
	}
	return out, nil
}

// ReadInventory reads everything the controller needs at mount time.
func ReadInventory(ctx context.Context, c Client, node string) (model.DeviceInventory, error) {
	var inv model.DeviceInventory

	info, err := Read[model.DeviceInfo](ctx, c, node, Path{List: ListInfo})
	if err != nil {
		return inv, err
	}
	inv.Info = info

	if inv.CircuitPacks, err = readList[model.CircuitPack](ctx, c, node, ListCircuitPacks); err != nil {
		return inv, err
	}
	if inv.Degrees, err = readList[model.Degree](ctx, c, node, ListDegree); err != nil {
		return inv, err
	}
	if inv.SRGs, err = readList[model.SharedRiskGroup](ctx, c, node, ListSRG); err != nil {
		return inv, err
	}
	if inv.Interfaces, err = readList[model.Interface](ctx, c, node, ListInterface); err != nil {
		return inv, err
	}

	protocols, err := Read[model.Protocols](ctx, c, node, Path{List: ListProtocols})
	switch {
	case err == nil:
		inv.Protocols = &protocols
	case !errors.Is(err, ErrNotFound):
		return inv, err
	}
	return inv, nil
}

// readList reads a whole list; an absent list reads as empty.
func readList[T any](ctx context.Context, c Client, node, list string) ([]T, error) {
	out, err := Read[[]T](ctx, c, node, Path{List: list})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return out, err
}
