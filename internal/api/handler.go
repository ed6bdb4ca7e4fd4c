// Package api exposes the assistant over HTTP: one resource,
// /ai/v1/my-assistant, serving transcript fetch, message+run, and thread
// reset, each in plain-JSON or SSE form.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cmskit/assistant-engine/internal/events"
	"github.com/cmskit/assistant-engine/internal/openai"
	"github.com/cmskit/assistant-engine/internal/run"
	"github.com/cmskit/assistant-engine/internal/session"
	"github.com/cmskit/assistant-engine/internal/sse"
)

// userHeader identifies the caller. The host application terminates
// authentication in front of this service and forwards the identity here;
// absent the header every request shares one session.
const userHeader = "X-User-ID"

const defaultUser = "default"

// Handler serves the my-assistant resource.
type Handler struct {
	session *session.Service
	engine  *run.Engine
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(svc *session.Service, engine *run.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{session: svc, engine: engine, logger: logger}
}

// Mount attaches the resource routes to a router.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/ai/v1/my-assistant", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/", h.post)
		r.Delete("/", h.clear)
	})
}

func userID(r *http.Request) string {
	if u := r.Header.Get(userHeader); u != "" {
		return u
	}
	return defaultUser
}

func wantStream(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("stream"))
	return v
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Code: code, Message: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// get returns the transcript. With ?stream=true the history is replayed
// as SSE message events and any interrupted run is resumed and appended.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	threadID, err := h.session.CreateOrGetThread(ctx, userID(r))
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "thread_unavailable", err)
		return
	}

	history, err := h.session.History(ctx, threadID)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "history_unavailable", err)
		return
	}

	if !wantStream(r) {
		list := events.List{}
		for i := range history {
			list = list.UpsertMessage(&history[i])
		}
		h.writeJSON(w, list)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.writeError(w, http.StatusNotImplemented, "streaming_unsupported", err)
		return
	}
	for i := range history {
		msg := &history[i]
		if err := writer.Send(msg.ID, events.TypeMessage, events.NewMessage(msg)); err != nil {
			return
		}
	}

	steps, err := h.engine.Resume(ctx, threadID)
	if err != nil {
		if errors.Is(err, run.ErrNothingToResume) {
			return
		}
		writer.SendError("resume_failed", err)
		return
	}
	h.streamSteps(r, writer, threadID, steps)
}

type postRequest struct {
	Content string `json:"content"`
	Stream  bool   `json:"stream"`
}

// post appends a user message and runs the thread against the assistant.
func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	assistantID, err := h.session.AssistantID(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoAssistant) {
			h.writeError(w, http.StatusConflict, "no_assistant", err)
			return
		}
		h.writeError(w, http.StatusBadGateway, "assistant_unavailable", err)
		return
	}

	threadID, err := h.session.CreateOrGetThread(ctx, userID(r))
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "thread_unavailable", err)
		return
	}

	msg, err := h.session.PostUserMessage(ctx, threadID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyContent):
			h.writeError(w, http.StatusBadRequest, "empty_content", err)
		case errors.Is(err, session.ErrContentTooLarge):
			h.writeError(w, http.StatusBadRequest, "content_too_large", err)
		default:
			h.writeError(w, http.StatusBadGateway, "message_rejected", err)
		}
		return
	}

	if req.Stream || wantStream(r) {
		h.postStream(w, r, threadID, assistantID, msg)
		return
	}

	steps, err := h.engine.Run(ctx, threadID, assistantID)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "run_failed", err)
		return
	}

	list := events.List{}
	list = list.UpsertMessage(msg)
	for res := range steps {
		if res.Err != nil {
			h.writeError(w, http.StatusBadGateway, "run_failed", res.Err)
			return
		}
		list = h.fold(ctx, list, threadID, res.Step)
	}
	h.writeJSON(w, list)
}

// postStream forwards the streamed run verbatim, after echoing the user
// message so the client can render it without a second fetch.
func (h *Handler) postStream(w http.ResponseWriter, r *http.Request, threadID, assistantID string, msg *openai.ThreadMessage) {
	ctx := r.Context()

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.writeError(w, http.StatusNotImplemented, "streaming_unsupported", err)
		return
	}
	if err := writer.Send(msg.ID, events.TypeMessage, events.NewMessage(msg)); err != nil {
		return
	}

	stream, err := h.engine.RunStream(ctx, threadID, assistantID)
	if err != nil {
		writer.SendError("run_failed", err)
		return
	}

	for res := range stream {
		if res.Err != nil {
			writer.SendError("run_failed", res.Err)
			return
		}
		ev := res.Event
		if err := writer.Send(payloadID(ev.Data), ev.Event, ev.Data); err != nil {
			return
		}
	}
}

// streamSteps renders a polled step sequence as producer-side SSE events:
// tool-call steps as step events, finished message-creation steps as the
// message they produced.
func (h *Handler) streamSteps(r *http.Request, writer *sse.Writer, threadID string, steps <-chan run.StepResult) {
	ctx := r.Context()

	for res := range steps {
		if res.Err != nil {
			writer.SendError("run_failed", res.Err)
			return
		}
		step := res.Step

		switch {
		case step.Type == openai.StepTypeMessageCreation && !step.ShouldWait():
			if step.StepDetails.MessageCreation == nil {
				continue
			}
			msg, err := h.session.Message(ctx, threadID, step.StepDetails.MessageCreation.MessageID)
			if err != nil {
				writer.SendError("message_unavailable", err)
				return
			}
			if err := writer.Send(msg.ID, events.TypeMessage, events.NewMessage(msg)); err != nil {
				return
			}
		case step.Type == openai.StepTypeToolCalls:
			if err := writer.Send(step.ID, events.TypeStep, events.NewStep(step)); err != nil {
				return
			}
		}
	}
}

// fold merges one polled step into the normalized list, resolving
// finished message-creation steps into their messages.
func (h *Handler) fold(ctx context.Context, list events.List, threadID string, step *openai.RunStep) events.List {
	switch {
	case step.Type == openai.StepTypeMessageCreation && !step.ShouldWait():
		if step.StepDetails.MessageCreation == nil {
			return list
		}
		msg, err := h.session.Message(ctx, threadID, step.StepDetails.MessageCreation.MessageID)
		if err != nil {
			h.logger.Warn("fetch step message failed",
				slog.String("step_id", step.ID),
				slog.String("error", err.Error()))
			return list
		}
		return list.UpsertMessage(msg)
	case step.Type == openai.StepTypeToolCalls:
		return list.UpsertStep(step)
	}
	return list
}

func payloadID(data json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return "event"
}

// clear discards the caller's thread and starts a fresh one.
func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)

	threadID, err := h.session.CreateOrGetThread(ctx, user)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "thread_unavailable", err)
		return
	}

	newID, err := h.session.Clear(ctx, threadID, user)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "clear_failed", err)
		return
	}
	h.writeJSON(w, map[string]string{"thread_id": newID})
}
