package sbi

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/lightpath-controller/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errBadRequest = fmt.Errorf("%w: malformed device request", model.ErrValidation)

// ToStatusError maps device-layer errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNodeNotMounted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrDeviceCommunication):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatusError is the client-side inverse of ToStatusError.
func FromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", model.ErrDeviceCommunication, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrNodeNotMounted, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", model.ErrValidation, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", model.ErrDeviceCommunication, st.Message())
	default:
		return fmt.Errorf("device error (%s): %s", st.Code(), st.Message())
	}
}
