package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/store"
	"github.com/felixgeelhaar/taskhub/internal/task"
)

// handleTask is the protocol endpoint: processors post task messages
// and receive the merged state back.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var msg task.Task
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeHubInternal, "invalid task body", err))
		return
	}

	got, err := s.engine.Process(r.Context(), &msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, got)
}

// startRequest initiates a task on behalf of an end-user session.
type startRequest struct {
	SessionID   string `json:"sessionId"`
	StartID     string `json:"startId"`
	UserID      string `json:"userId"`
	GroupID     string `json:"groupId,omitempty"`
	ProcessorID string `json:"processorId"`

	Address map[string]any `json:"address,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeHubInternal, "invalid start body", err))
		return
	}
	if req.StartID == "" {
		s.writeError(w, errors.New(errors.ErrCodeTemplateNotFound, "startId is required"))
		return
	}
	if req.ProcessorID == "" {
		s.writeError(w, errors.New(errors.ErrCodeMissingProcessor, "processorId is required"))
		return
	}

	msg := &task.Task{
		ID:        req.StartID,
		UserID:    req.UserID,
		GroupID:   req.GroupID,
		Processor: &task.ProcessorEntry{ID: req.ProcessorID, Command: task.CommandInit},
	}
	if req.Address != nil {
		msg.State = &task.State{Address: req.Address}
	}

	started, err := s.engine.Process(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if req.SessionID != "" {
		sess := &store.Session{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			FamilyID:  started.FamilyID,
		}
		if err := s.store.Sessions.Set(r.Context(), sess); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, started)
}

// handleSync is the fan-out channel: a processor long-polls for the next
// broadcast aimed at it. An empty window returns 204.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	processorID := r.URL.Query().Get("processorId")
	if processorID == "" {
		s.writeError(w, errors.New(errors.ErrCodeMissingProcessor, "processorId is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.syncTimeout)
	defer cancel()

	t, err := s.queue.Poll(ctx, processorID)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// sessionResponse lets a reconnecting client find its running family.
type sessionResponse struct {
	SessionID string   `json:"sessionId"`
	UserID    string   `json:"userId,omitempty"`
	FamilyID  string   `json:"familyId"`
	Instances []string `json:"instances,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, errors.New(errors.ErrCodeSessionNotFound, "sessionId is required"))
		return
	}
	sess, ok, err := s.store.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, errors.Newf(errors.ErrCodeSessionNotFound, "session %q not found", sessionID))
		return
	}
	instances, _, err := s.store.Families.Get(r.Context(), sess.FamilyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		FamilyID:  sess.FamilyID,
		Instances: instances,
	})
}

// registerRequest announces a processor and its environments.
type registerRequest struct {
	ID           string   `json:"id"`
	Environments []string `json:"environments"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeHubInternal, "invalid register body", err))
		return
	}
	if req.ID == "" {
		s.writeError(w, errors.New(errors.ErrCodeMissingProcessor, "processor id is required"))
		return
	}
	if len(req.Environments) == 0 {
		s.writeError(w, errors.New(errors.ErrCodeNoEnvironments, "processor announces no environments"))
		return
	}

	s.processors.Register(router.Processor{ID: req.ID, Environments: req.Environments})
	s.logger.Info("processor registered", "processor_id", req.ID, "environments", req.Environments)
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeHubInternal, "invalid deregister body", err))
		return
	}
	if req.ID == "" {
		s.writeError(w, errors.New(errors.ErrCodeMissingProcessor, "processor id is required"))
		return
	}

	s.processors.Deregister(req.ID)
	s.logger.Info("processor deregistered", "processor_id", req.ID)
	w.WriteHeader(http.StatusNoContent)
}
