package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iot/internal/audit"
	"github.com/nerrad567/gray-logic-iot/internal/automation"
)

// maxRuleIDLen bounds rule ids taken from the URL.
const maxRuleIDLen = 100

// entityRule is the audit entity type for automation rules.
const entityRule = "automation_rule"

// handleListRules returns every rule, sorted.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListRules(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleGetRule returns one rule.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.loadRule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleCreateRule validates and stores a new rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		s.writeRuleError(w, err, "failed to create rule")
		return
	}

	s.audit(r.Context(), audit.ActionCreate, entityRule, rule.ID, map[string]any{"name": rule.Name})
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule decodes a partial update onto the stored rule.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.loadRule(w, r)
	if !ok {
		return
	}
	id := existing.ID

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id

	if err := s.rules.UpdateRule(r.Context(), existing); err != nil {
		s.writeRuleError(w, err, "failed to update rule")
		return
	}

	s.audit(r.Context(), audit.ActionUpdate, entityRule, id, nil)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteRule removes a rule and its execution history.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxRuleIDLen {
		writeBadRequest(w, "invalid rule id")
		return
	}

	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		s.writeRuleError(w, err, "failed to delete rule")
		return
	}

	s.audit(r.Context(), audit.ActionDelete, entityRule, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteRule runs a rule's actions now, ignoring its trigger,
// condition and cooldown, and returns the finished execution.
func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeUnavailable(w, "rule execution is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxRuleIDLen {
		writeBadRequest(w, "invalid rule id")
		return
	}

	// The run outlives a dropped client so its record is completed.
	exec, err := s.executor.Execute(context.WithoutCancel(r.Context()), id, "api")
	if err != nil {
		switch {
		case errors.Is(err, automation.ErrRuleNotFound):
			writeNotFound(w, "rule not found")
		case errors.Is(err, automation.ErrRuleDisabled):
			writeError(w, http.StatusConflict, ErrCodeConflict, "rule is disabled")
		case errors.Is(err, automation.ErrDispatchUnavailable):
			writeUnavailable(w, "command dispatch is not configured")
		default:
			s.logger.Error("rule execution failed", "rule_id", id, "error", err)
			writeInternalError(w, "failed to execute rule")
		}
		return
	}

	s.audit(r.Context(), audit.ActionExecute, entityRule, id, map[string]any{
		"execution_id": exec.ID,
		"status":       string(exec.Status),
	})
	writeJSON(w, http.StatusOK, exec)
}

// handleListExecutions returns a rule's recent executions, newest first.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rule, ok := s.loadRule(w, r)
	if !ok {
		return
	}

	executions, err := s.executions.ListExecutions(r.Context(), rule.ID, limit)
	if err != nil {
		s.logger.Error("listing executions failed", "rule_id", rule.ID, "error", err)
		writeInternalError(w, "failed to list executions")
		return
	}
	if executions == nil {
		executions = []automation.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

func (s *Server) loadRule(w http.ResponseWriter, r *http.Request) (*automation.Rule, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxRuleIDLen {
		writeBadRequest(w, "invalid rule id")
		return nil, false
	}
	rule, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		s.writeRuleError(w, err, "failed to load rule")
		return nil, false
	}
	return rule, true
}

func (s *Server) writeRuleError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, automation.ErrRuleNotFound):
		writeNotFound(w, "rule not found")
	case errors.Is(err, automation.ErrRuleExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, automation.ErrInvalidRule),
		errors.Is(err, automation.ErrInvalidName),
		errors.Is(err, automation.ErrInvalidSlug),
		errors.Is(err, automation.ErrInvalidTrigger),
		errors.Is(err, automation.ErrInvalidAction),
		errors.Is(err, automation.ErrNoActions):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
