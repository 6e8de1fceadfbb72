package nbi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/lightpath-controller/model"
)

// RESTCONF error tags.
const (
	TagDataMissing     = "data-missing"
	TagInvalidValue    = "invalid-value"
	TagDataExists      = "data-exists"
	TagInUse           = "in-use"
	TagOperationFailed = "operation-failed"
)

// MsgDataMissing is the message of every data-missing error.
const MsgDataMissing = "Request could not be completed because the relevant data model content does not exist"

var (
	// ErrNotFound is used for resources that only exist at this layer, such
	// as unknown routes under a mounted node.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks request bodies that cannot be decoded.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrorEntry is one element of a RESTCONF errors document.
type ErrorEntry struct {
	Type    string `json:"error-type"`
	Tag     string `json:"error-tag"`
	Message string `json:"error-message"`
}

// ErrorDocument is the body of every non-2xx response.
type ErrorDocument struct {
	Errors struct {
		Error []ErrorEntry `json:"error"`
	} `json:"errors"`
}

// ToRestconfError maps controller errors onto an HTTP status and a RESTCONF
// error entry.
func ToRestconfError(err error) (int, ErrorEntry) {
	entry := ErrorEntry{Type: "application", Message: err.Error()}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, model.ErrNotFound):
		entry.Tag = TagDataMissing
		entry.Message = MsgDataMissing
		return http.StatusNotFound, entry

	case errors.Is(err, ErrInvalidInput):
		entry.Type = "protocol"
		entry.Tag = TagInvalidValue
		return http.StatusBadRequest, entry

	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrMappingIncomplete):
		entry.Tag = TagInvalidValue
		return http.StatusBadRequest, entry

	case errors.Is(err, model.ErrAlreadyExists):
		entry.Tag = TagDataExists
		return http.StatusConflict, entry

	case errors.Is(err, model.ErrResourceConflict),
		errors.Is(err, model.ErrNoWavelengthAvailable):
		entry.Tag = TagInUse
		return http.StatusConflict, entry

	default:
		entry.Tag = TagOperationFailed
		return http.StatusInternalServerError, entry
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, entry := ToRestconfError(err)
	var doc ErrorDocument
	doc.Errors.Error = []ErrorEntry{entry}
	writeJSON(w, code, doc)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
