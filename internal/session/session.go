// Package session owns the thread lifecycle around the remote service:
// per-user thread binding, message validation and posting, history, and
// idempotent assistant provisioning at boot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cmskit/assistant-engine/internal/assistant"
	"github.com/cmskit/assistant-engine/internal/openai"
	"github.com/cmskit/assistant-engine/internal/storage"
	"github.com/cmskit/assistant-engine/internal/tokens"
)

// ErrNoAssistant signals that no assistant has been provisioned yet.
var ErrNoAssistant = errors.New("session: no assistant configured")

// ErrEmptyContent rejects messages with no content.
var ErrEmptyContent = errors.New("session: message content is empty")

// ErrContentTooLarge rejects messages over the configured token budget.
var ErrContentTooLarge = errors.New("session: message exceeds the token budget")

// Service mediates between callers and the remote thread model.
type Service struct {
	client    *openai.Client
	store     storage.Store
	estimator *tokens.Estimator
	logger    *slog.Logger

	model     string
	maxTokens int
}

// NewService creates a session service. maxTokens of 0 disables the
// message size check.
func NewService(client *openai.Client, store storage.Store, estimator *tokens.Estimator, logger *slog.Logger, model string, maxTokens int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:    client,
		store:     store,
		estimator: estimator,
		logger:    logger,
		model:     model,
		maxTokens: maxTokens,
	}
}

// AssistantID returns the provisioned assistant id, or ErrNoAssistant.
func (s *Service) AssistantID(ctx context.Context) (string, error) {
	id, err := s.store.AssistantID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoAssistant
	}
	return id, nil
}

// CreateOrGetThread returns the user's thread, creating and persisting
// one on first use.
func (s *Service) CreateOrGetThread(ctx context.Context, userID string) (string, error) {
	threadID, err := s.store.ThreadID(ctx, userID)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		return threadID, nil
	}

	thread, err := s.client.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("session: create thread: %w", err)
	}
	if err := s.store.SetThreadID(ctx, userID, thread.ID); err != nil {
		return "", err
	}
	s.logger.Info("created thread", slog.String("thread_id", thread.ID), slog.String("user", userID))
	return thread.ID, nil
}

// PostUserMessage validates and appends a user message to the thread.
func (s *Service) PostUserMessage(ctx context.Context, threadID, text string) (*openai.ThreadMessage, error) {
	if text == "" {
		return nil, ErrEmptyContent
	}

	if s.maxTokens > 0 && s.estimator != nil {
		count, err := s.estimator.Count(s.model, text)
		if err != nil {
			return nil, fmt.Errorf("session: estimate tokens: %w", err)
		}
		s.logger.Debug("user message size",
			slog.Int("tokens", count),
			slog.Int("budget", s.maxTokens))
		if count > s.maxTokens {
			return nil, ErrContentTooLarge
		}
	}

	return s.client.CreateThreadMessage(ctx, openai.ThreadNewMessage{
		ThreadID: threadID,
		Role:     openai.RoleUser,
		Content:  text,
	})
}

// History returns the thread's messages in chronological order.
func (s *Service) History(ctx context.Context, threadID string) ([]openai.ThreadMessage, error) {
	return s.client.ListThreadMessages(ctx, threadID, openai.ListOptions{Order: "asc"})
}

// Message fetches one message from a thread.
func (s *Service) Message(ctx context.Context, threadID, messageID string) (*openai.ThreadMessage, error) {
	return s.client.GetThreadMessage(ctx, threadID, messageID)
}

// Clear discards the user's thread and binds a fresh one. The remote
// delete is best-effort: a stale or already-deleted thread must not keep
// the user stuck.
func (s *Service) Clear(ctx context.Context, threadID, userID string) (string, error) {
	if threadID != "" {
		if err := s.client.DeleteThread(ctx, threadID); err != nil {
			s.logger.Warn("delete thread failed",
				slog.String("thread_id", threadID),
				slog.String("error", err.Error()))
		}
	}

	thread, err := s.client.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("session: create thread: %w", err)
	}
	if err := s.store.SetThreadID(ctx, userID, thread.ID); err != nil {
		return "", err
	}
	return thread.ID, nil
}

// BootstrapConfig describes the assistant to provision at startup.
type BootstrapConfig struct {
	Name            string
	Description     string
	Instructions    string
	Model           string
	Functions       []*assistant.Function
	CodeInterpreter bool
}

// EnsureAssistant provisions the remote assistant once and registers it
// locally. A stored id is verified against the service and reused;
// otherwise a new assistant is created and its id persisted. Safe to call
// on every boot.
func (s *Service) EnsureAssistant(ctx context.Context, registry *assistant.Registry, cfg BootstrapConfig) (*assistant.Assistant, error) {
	remote, err := s.lookupOrCreate(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := assistant.New(remote, s.logger)
	for _, fn := range cfg.Functions {
		if err := a.RegisterFunction(fn); err != nil {
			return nil, err
		}
	}
	if cfg.CodeInterpreter {
		a.RegisterCodeInterpreter()
	}

	registry.Register(a)
	return a, nil
}

func (s *Service) lookupOrCreate(ctx context.Context, cfg BootstrapConfig) (*openai.Assistant, error) {
	id, err := s.store.AssistantID(ctx)
	if err != nil {
		return nil, err
	}
	if id != "" {
		remote, err := s.client.GetAssistant(ctx, id)
		if err == nil {
			return remote, nil
		}
		var apiErr *openai.APIError
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("session: fetch assistant: %w", err)
		}
		s.logger.Warn("stored assistant id is stale, provisioning a new one",
			slog.String("assistant_id", id),
			slog.String("error", apiErr.Message))
	}

	remote, err := s.client.CreateAssistant(ctx, openai.CreateAssistantRequest{
		Name:         cfg.Name,
		Description:  cfg.Description,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create assistant: %w", err)
	}
	if err := s.store.SetAssistantID(ctx, remote.ID); err != nil {
		return nil, err
	}
	s.logger.Info("provisioned assistant", slog.String("assistant_id", remote.ID))
	return remote, nil
}
