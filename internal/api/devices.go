package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// handleListDevices returns every provisioned device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a device with the topics of its schema version.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDevice(w, r)
	if !ok {
		return
	}

	topics := []device.Topic{}
	if d.SchemaVersionID != nil {
		list, err := s.devices.ListTopics(r.Context(), *d.SchemaVersionID)
		if err != nil {
			s.logger.Error("listing topics failed", "device_uuid", d.UUID, "error", err)
			writeInternalError(w, "failed to list topics")
			return
		}
		topics = append(topics, list...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device": d,
		"topics": topics,
	})
}

// handleGetDeviceStates returns the stored state of every subject of a
// device, newest first. ?topic= narrows it to one subject.
func (s *Server) handleGetDeviceStates(w http.ResponseWriter, r *http.Request) {
	if s.states == nil {
		writeUnavailable(w, "state store is not configured")
		return
	}
	d, ok := s.loadDevice(w, r)
	if !ok {
		return
	}

	if subject := r.URL.Query().Get("topic"); subject != "" {
		rec, err := s.states.StateByTopic(r.Context(), d.UUID, subject)
		if err != nil {
			s.logger.Error("reading state failed", "device_uuid", d.UUID, "topic", subject, "error", err)
			writeInternalError(w, "failed to read state")
			return
		}
		if rec == nil {
			writeNotFound(w, "no state stored for topic")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	records, err := s.states.AllStates(r.Context(), d.UUID)
	if err != nil {
		s.logger.Error("reading states failed", "device_uuid", d.UUID, "error", err)
		writeInternalError(w, "failed to read states")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_uuid": d.UUID,
		"states":      records,
	})
}

// handleGetLastState returns the newest stored record across the device's subjects.
func (s *Server) handleGetLastState(w http.ResponseWriter, r *http.Request) {
	if s.states == nil {
		writeUnavailable(w, "state store is not configured")
		return
	}
	d, ok := s.loadDevice(w, r)
	if !ok {
		return
	}

	rec, err := s.states.LastState(r.Context(), d.UUID)
	if err != nil {
		s.logger.Error("reading last state failed", "device_uuid", d.UUID, "error", err)
		writeInternalError(w, "failed to read state")
		return
	}
	if rec == nil {
		writeNotFound(w, "no state stored for device")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// loadDevice resolves the {uuid} URL parameter, writing the error response
// itself when it returns false.
func (s *Server) loadDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	d, err := s.findDevice(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		s.logger.Error("loading device failed", "error", err)
		writeInternalError(w, "failed to load device")
		return nil, false
	}
	return d, true
}

func (s *Server) findDevice(ctx context.Context, uuid string) (*device.Device, error) {
	if uuid == "" {
		return nil, device.ErrDeviceNotFound
	}
	return s.devices.GetDeviceByUUID(ctx, uuid)
}

// listLimit parses ?limit=, defaulting to 50 and capping at 200.
func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}
