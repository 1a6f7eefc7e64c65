// Package api implements the HTTP surface for inspecting and operating bound
// devices.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-nova/tscadc-go/internal/devmgr"
	"github.com/micro-nova/tscadc-go/internal/events"
	"github.com/micro-nova/tscadc-go/internal/tscadc"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	devs   Devices
	events EventBus
}

// Devices is the device manager as seen by the handlers.
type Devices interface {
	Devices() []devmgr.Status
	Device(name string) (devmgr.Status, error)
	Bind(name string) error
	Unbind(name string) error
}

// EventBus is the interface for subscribing to lifecycle events.
type EventBus interface {
	Subscribe(id string) <-chan events.Event
	Unsubscribe(id string)
}

// AppError is a structured error response.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// toAppError maps manager and driver errors onto HTTP statuses.
func toAppError(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, devmgr.ErrUnknownDevice):
		return &AppError{Code: "NOT_FOUND", Message: err.Error(), Status: http.StatusNotFound}
	case errors.Is(err, devmgr.ErrAlreadyBound),
		errors.Is(err, devmgr.ErrNotBound),
		errors.Is(err, tscadc.ErrResourceBusy):
		return &AppError{Code: "CONFLICT", Message: err.Error(), Status: http.StatusConflict}
	case errors.Is(err, devmgr.ErrNoDriver),
		errors.Is(err, tscadc.ErrMissingConfig),
		errors.Is(err, tscadc.ErrMissingResource),
		errors.Is(err, tscadc.ErrMissingInterrupt),
		errors.Is(err, tscadc.ErrClockTooSlow),
		errors.Is(err, tscadc.ErrDividerRange):
		return &AppError{Code: "UNPROCESSABLE", Message: err.Error(), Status: http.StatusUnprocessableEntity}
	default:
		return &AppError{Code: "INTERNAL", Message: err.Error(), Status: http.StatusInternalServerError}
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON AppError response.
func writeError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	writeJSON(w, appErr.Status, appErr)
}
