package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"go.uber.org/zap"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {

	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		s.logger.Error("Failed to list rules",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	s.writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {

	var rule rule_manager.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}

	if err := rule.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateRule(r.Context(), &rule); err != nil {
		s.logger.Error("Failed to create rule",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	s.reloadRules(r)

	s.writeJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {

	id := mux.Vars(r)["id"]

	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get rule",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	if rule == nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {

	id := mux.Vars(r)["id"]

	existing, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	if existing == nil {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	var rule rule_manager.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}

	rule.ID = id
	rule.CreatedAt = existing.CreatedAt

	if err := rule.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateRule(r.Context(), &rule); err != nil {
		s.logger.Error("Failed to update rule",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}

	s.reloadRules(r)

	s.writeJSON(w, http.StatusOK, &rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {

	id := mux.Vars(r)["id"]

	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		s.logger.Error("Failed to delete rule",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	s.reloadRules(r)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reloadRules(r *http.Request) {

	err := s.disp.ReloadRules(r.Context())
	if err != nil {
		s.logger.Error("Failed to reload rules",
			zap.Error(err),
		)
	}
}

// testRequest is the dry-run payload: one condition group plus a sample
// email to evaluate it against.
type testRequest struct {
	ConditionGroup rule_manager.ConditionGroup `json:"conditionGroup"`
	Email          message.Email               `json:"email"`
}

func (s *Server) handleTestConditionGroup(w http.ResponseWriter, r *http.Request) {

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid test payload")
		return
	}

	matched := dispatcher.TestConditionGroup(req.ConditionGroup, &req.Email)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"matched": matched,
	})
}

func (s *Server) handleTestConditionGroupVerbose(w http.ResponseWriter, r *http.Request) {

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid test payload")
		return
	}

	matched, conditions := dispatcher.TestConditionGroupVerbose(req.ConditionGroup, &req.Email)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"matched":    matched,
		"conditions": conditions,
	})
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {

	limit := 100
	if v := r.URL.Query().Get("limit"); len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	emails, err := s.store.ListEmails(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list emails",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}

	s.writeJSON(w, http.StatusOK, emails)
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {

	id := mux.Vars(r)["id"]

	email, err := s.store.GetEmail(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get email",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to get email")
		return
	}

	if email == nil {
		s.writeError(w, http.StatusNotFound, "email not found")
		return
	}

	s.writeJSON(w, http.StatusOK, email)
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {

	id := mux.Vars(r)["id"]

	outcomes, err := s.store.ListOutcomes(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list outcomes",
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}

	s.writeJSON(w, http.StatusOK, outcomes)
}
