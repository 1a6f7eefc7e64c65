package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/tscadc-go/internal/auth"
)

func (h *Handlers) getDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.devs.Devices())
}

func (h *Handlers) getDevice(w http.ResponseWriter, r *http.Request) {
	st, err := h.devs.Device(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) bindDevice(w http.ResponseWriter, r *http.Request) {
	h.operate(w, r, "bind", h.devs.Bind)
}

func (h *Handlers) unbindDevice(w http.ResponseWriter, r *http.Request) {
	h.operate(w, r, "unbind", h.devs.Unbind)
}

// operate runs op on the named device and answers with its new status.
func (h *Handlers) operate(w http.ResponseWriter, r *http.Request, what string, op func(string) error) {
	name := chi.URLParam(r, "name")
	slog.Info("api: "+what, "dev", name, "operator", auth.OperatorFrom(r.Context()))
	if err := op(name); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.devs.Device(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
