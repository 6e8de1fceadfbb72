package renderer

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// Service-path operations.
const (
	OperationCreate = "create"
	OperationDelete = "delete"
)

// ServicePathInput renders a known path without computing one. The path is
// rendered in the listed direction only, with power control off.
type ServicePathInput struct {
	ServiceName      string      `json:"service-name"`
	WaveNumber       int         `json:"wave-number"`
	ModulationFormat string      `json:"modulation-format,omitempty"`
	Operation        string      `json:"operation"`
	Nodes            []model.Hop `json:"nodes"`
}

// ServicePathOutput reports a service-path outcome.
type ServicePathOutput struct {
	Result  string `json:"result"`
	Success bool   `json:"success"`
}

// ServicePath creates or deletes the objects of a known path. Failures are
// reported in the output, not as errors.
func (r *Renderer) ServicePath(ctx context.Context, in ServicePathInput) ServicePathOutput {
	req := Request{
		Owner:            in.ServiceName,
		Hops:             in.Nodes,
		Wavelength:       in.WaveNumber,
		ModulationFormat: in.ModulationFormat,
		ControlMode:      ControlOff,
	}
	switch in.Operation {
	case OperationCreate:
		if err := r.Create(ctx, req); err != nil {
			return ServicePathOutput{Result: err.Error()}
		}
		nodes := make([]string, 0, len(in.Nodes))
		for _, hop := range in.Nodes {
			nodes = append(nodes, hop.NodeID)
		}
		return ServicePathOutput{
			Result:  "Roadm-connection successfully created for nodes: " + strings.Join(nodes, ", "),
			Success: true,
		}
	case OperationDelete:
		if err := r.Delete(ctx, req); err != nil {
			return ServicePathOutput{Result: err.Error()}
		}
		return ServicePathOutput{Result: "Request processed", Success: true}
	default:
		err := fmt.Errorf("%w: unknown operation %q", model.ErrValidation, in.Operation)
		return ServicePathOutput{Result: err.Error()}
	}
}
