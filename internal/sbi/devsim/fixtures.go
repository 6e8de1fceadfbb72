package devsim

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/model"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/*.yaml
var fixtureFS embed.FS

// FixtureNames lists the embedded devices, e.g. ROADMA01.
func FixtureNames() []string {
	entries, err := fs.ReadDir(fixtureFS, "fixtures")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		out = append(out, strings.ToUpper(name))
	}
	sort.Strings(out)
	return out
}

// Fixture decodes the embedded inventory of the named device.
func Fixture(name string) (model.DeviceInventory, error) {
	var inv model.DeviceInventory
	raw, err := fixtureFS.ReadFile("fixtures/" + strings.ToLower(name) + ".yaml")
	if err != nil {
		return inv, fmt.Errorf("%w: fixture %q", model.ErrNotFound, name)
	}
	return DecodeInventory(raw)
}

// DecodeInventory parses a YAML device inventory.
func DecodeInventory(raw []byte) (model.DeviceInventory, error) {
	var inv model.DeviceInventory
	if err := yaml.Unmarshal(raw, &inv); err != nil {
		return inv, fmt.Errorf("%w: decode device inventory: %v", model.ErrValidation, err)
	}
	if inv.Info.NodeID == "" {
		return inv, fmt.Errorf("%w: device inventory without node-id", model.ErrValidation)
	}
	return inv, nil
}

// LoadFixtures adds the named embedded devices, or all of them when no name
// is given.
func (s *Simulator) LoadFixtures(names ...string) error {
	if len(names) == 0 {
		names = FixtureNames()
	}
	for _, name := range names {
		inv, err := Fixture(name)
		if err != nil {
			return err
		}
		if err := s.AddDevice(inv); err != nil {
			return err
		}
	}
	return nil
}
