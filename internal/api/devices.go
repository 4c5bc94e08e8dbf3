package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-connector/internal/audit"
	"github.com/nerrad567/mqtt-connector/internal/device"
)

// deviceResponse is a device plus its ordered field pairs.
type deviceResponse struct {
	device.Device
	Fields []device.Field `json:"fields"`
}

func toResponse(d *device.Device) deviceResponse {
	return deviceResponse{Device: *d, Fields: d.Fields()}
}

// createDeviceRequest is the body of POST /devices. ID and state are optional.
type createDeviceRequest struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	DeviceTypeID string       `json:"device_type_id"`
	State        device.State `json:"state"`
	ModuleID     string       `json:"module_id"`
}

// handleListDevices returns all devices. The optional state query
// parameter filters by online/offline.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	state := device.State(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeBadRequest(w, "state must be online or offline")
		return
	}

	devices := s.registry.ListDevices(r.Context())
	out := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		if state != "" && devices[i].State != state {
			continue
		}
		out = append(out, toResponse(&devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(dev))
}

// handleCreateDevice registers a device ahead of its first message.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		ID:           req.ID,
		Name:         req.Name,
		DeviceTypeID: req.DeviceTypeID,
		State:        req.State,
		ModuleID:     req.ModuleID,
	}
	if err := s.registry.CreateDevice(r.Context(), dev); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrInvalidState):
			writeError(w, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, ErrCodeConflict, "device already exists")
		default:
			s.logger.Error("failed to create device", "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.record(r, audit.ActionCreate, audit.EntityDevice, dev.ID, map[string]any{"name": dev.Name})
	writeJSON(w, http.StatusCreated, toResponse(dev))
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to delete device", "id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	s.record(r, audit.ActionDelete, audit.EntityDevice, id, nil)
	w.WriteHeader(http.StatusNoContent)
}
