package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iot/internal/audit"
	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/payload"
)

// dispatchRequest is the body of a dispatch call. Exactly one of Controls
// and Payload is used: controls are resolved through the topic's
// parameters, a payload is validated against them as-is.
type dispatchRequest struct {
	Controls map[string]any `json:"controls"`
	Payload  map[string]any `json:"payload"`
	Broker   *brokerRequest `json:"broker,omitempty"`
}

type brokerRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// handleDispatchCommand sends a command to one of a device's command topics.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeUnavailable(w, "command dispatch is not configured")
		return
	}
	d, ok := s.loadDevice(w, r)
	if !ok {
		return
	}
	if d.SchemaVersionID == nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, "device has no schema version")
		return
	}

	key := chi.URLParam(r, "key")
	topic, err := s.devices.GetTopicByKey(r.Context(), *d.SchemaVersionID, key)
	if err != nil {
		if errors.Is(err, device.ErrTopicNotFound) {
			writeNotFound(w, "topic not found")
			return
		}
		s.logger.Error("loading topic failed", "device_uuid", d.UUID, "topic", key, "error", err)
		writeInternalError(w, "failed to load topic")
		return
	}
	if topic.IsPublish() {
		writeBadRequest(w, fmt.Sprintf("topic %q is not a command topic", key))
		return
	}

	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var (
		out  map[string]any
		errs map[string]string
	)
	switch {
	case body.Controls != nil && body.Payload != nil:
		writeBadRequest(w, "send either controls or payload, not both")
		return
	case body.Controls != nil:
		out, errs = payload.ResolveFromControls(topic.Parameters, body.Controls)
	case body.Payload != nil:
		out, errs = body.Payload, payload.ValidatePayload(topic.Parameters, body.Payload)
	default:
		writeBadRequest(w, "controls or payload is required")
		return
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	req := command.Request{Device: d, Topic: topic, Payload: out}
	if claims := claimsFromContext(r.Context()); claims != nil {
		if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
			req.UserID = &id
		}
	}
	if body.Broker != nil {
		req.Broker = command.Broker{Host: body.Broker.Host, Port: body.Broker.Port}
	}

	cmd, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, command.ErrInvalidRequest) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("dispatch failed", "device_uuid", d.UUID, "topic", key, "error", err)
		writeInternalError(w, "failed to record command")
		return
	}

	s.audit(r.Context(), audit.ActionCommand, "command", strconv.FormatInt(cmd.ID, 10), map[string]any{
		"device_uuid": d.UUID,
		"topic":       key,
		"status":      string(cmd.Status),
	})
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleListDeviceCommands returns a device's most recent commands.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	d, ok := s.loadDevice(w, r)
	if !ok {
		return
	}

	cmds, err := s.commands.ListByDevice(r.Context(), d.ID, limit)
	if err != nil {
		s.logger.Error("listing commands failed", "device_uuid", d.UUID, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	if cmds == nil {
		cmds = []command.Command{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": cmds,
		"count":    len(cmds),
	})
}

// handleGetCommand returns one command by id.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "invalid command id")
		return
	}

	cmd, err := s.commands.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, command.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("loading command failed", "command_id", id, "error", err)
		writeInternalError(w, "failed to load command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleExpireCommands runs one expiry sweep immediately.
func (s *Server) handleExpireCommands(w http.ResponseWriter, r *http.Request) {
	if s.expirer == nil {
		writeUnavailable(w, "command expiry is not configured")
		return
	}

	cutoff := s.expirer.Cutoff()
	n, err := s.expirer.Sweep(r.Context())
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		writeInternalError(w, "expiry sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timed_out": n,
		"cutoff":    cutoff.UTC().Format(time.RFC3339),
	})
}
