// Package statetest builds a mounted two-ROADM lab for tests: ROADMA01 and
// ROADMC01 joined by DEG1/DEG2, with XPDRA01 and XPDRC01 patched to SRG1
// PP1 and PP2 through their two network ports.
package statetest

import (
	"context"
	"testing"

	"github.com/signalsfoundry/lightpath-controller/internal/sbi/devsim"
	"github.com/signalsfoundry/lightpath-controller/internal/state"
)

// Devices of the lab in mount order.
var Devices = []string{"ROADMA01", "ROADMC01", "XPDRA01", "XPDRC01"}

// Lab is a mounted controller state over a device simulator.
type Lab struct {
	State *state.ControllerState
	Sim   *devsim.Simulator
}

// NewLab mounts every lab device and initialises the transponder links.
func NewLab(t *testing.T, opts ...state.Option) *Lab {
	t.Helper()
	lab := NewUnmountedLab(t, opts...)
	ctx := context.Background()
	for _, id := range Devices {
		if _, err := lab.State.MountNode(ctx, id); err != nil {
			t.Fatalf("MountNode(%s): %v", id, err)
		}
	}
	for _, pair := range []struct{ xpdr, rdm string }{{"XPDRA01", "ROADMA01"}, {"XPDRC01", "ROADMC01"}} {
		for _, n := range []string{"1", "2"} {
			req := state.XpdrRdmLinkRequest{
				XpdrNode:            pair.xpdr,
				XpdrNum:             "1",
				NetworkNum:          n,
				RdmNode:             pair.rdm,
				SRGNum:              "1",
				TerminationPointNum: "SRG1-PP" + n + "-TXRX",
			}
			if _, err := lab.State.InitXpdrRdmLinks(ctx, req); err != nil {
				t.Fatalf("InitXpdrRdmLinks(%s %s): %v", pair.xpdr, n, err)
			}
			if _, err := lab.State.InitRdmXpdrLinks(ctx, req); err != nil {
				t.Fatalf("InitRdmXpdrLinks(%s %s): %v", pair.xpdr, n, err)
			}
		}
	}
	return lab
}

// NewUnmountedLab returns the simulator with all fixtures loaded and an
// empty controller state on top of it.
func NewUnmountedLab(t *testing.T, opts ...state.Option) *Lab {
	t.Helper()
	sim, err := devsim.New()
	if err != nil {
		t.Fatalf("devsim.New: %v", err)
	}
	t.Cleanup(func() { _ = sim.Close() })
	if err := sim.LoadFixtures(Devices...); err != nil {
		t.Fatalf("LoadFixtures: %v", err)
	}
	return &Lab{State: state.New(sim, opts...), Sim: sim}
}
