package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/events"
	"github.com/anotherai-dev/anotherai/internal/runner"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())

	var req chatCompletionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	runReq, err := req.toRunnerRequest()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.DeploymentID != "" {
		if err := s.applyDeployment(r, tenant.UID, req.DeploymentID, runReq); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if _, err := s.stores.Agents.GetOrCreate(r.Context(), tenant.UID, runReq.Agent.ID); err != nil {
		s.writeError(w, apierr.Internal(err, "ensuring agent"))
		return
	}

	exec := s.newRunner(storage.ScopedCache{Analytics: s.analytics, TenantUID: tenant.UID})
	if req.Stream {
		s.streamChatCompletion(w, r, tenant.UID, exec, runReq)
		return
	}

	completion, err := exec.Run(r.Context(), runReq)
	if completion != nil {
		s.storeCompletion(tenant.UID, completion)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.toChatResponse(completion))
}

// applyDeployment swaps the request's version for the deployment's pinned
// one. Request messages stay as input.
func (s *Server) applyDeployment(r *http.Request, tenantUID, deploymentID string, runReq *runner.Request) error {
	deployment, err := s.stores.Deployments.Get(r.Context(), tenantUID, deploymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.NotFound("deployment %q not found", deploymentID)
		}
		return apierr.Internal(err, "resolving deployment")
	}
	if deployment.Version == nil {
		return apierr.New(apierr.CodeInternalError, "deployment %q has no version", deploymentID)
	}
	// The deployment prompt templates the input; variables may still come
	// from the request's input extension.
	variables := runReq.Input.Variables
	messages := runReq.Input.Messages
	if len(messages) == 0 {
		messages = runReq.Version.Prompt
	}
	runReq.Version = *deployment.Version
	runReq.Input = models.AgentInput{Variables: variables, Messages: messages}
	if runReq.Agent.ID == "" || runReq.Agent.ID == "default" {
		runReq.Agent.ID = deployment.AgentID
	}
	return nil
}

// storeCompletion hands the finished completion to the background router.
// Storage failures never fail the request.
func (s *Server) storeCompletion(tenantUID string, completion *models.AgentCompletion) {
	if completion.FromCache {
		return
	}
	event, err := events.NewEvent(events.TypeStoreCompletion, events.StoreCompletionPayload{Completion: *completion})
	if err != nil {
		s.log.Error("encoding completion event", "completion_id", completion.ID, "error", err)
		return
	}
	// The event outlives the request, so it rides on a fresh context.
	s.events.ForTenant(tenantUID).Route(context.Background(), event, 0)
}

// streamChatCompletion writes the completion as OpenAI-style SSE chunks.
// Errors after the stream has started are emitted as a terminal error
// event; the HTTP status is already 200 by then.
func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, tenantUID string, exec CompletionRunner, runReq *runner.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apierr.New(apierr.CodeInternalError, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	streamID := models.NewID()
	created := time.Now().Unix()
	emit := func(chunk *models.RunnerOutputChunk) error {
		if chunk.FinalChunk != nil {
			// The terminal wire chunk is built below from the returned
			// completion, with cost and usage attached.
			return nil
		}
		wire := chatCompletionResponse{
			ID:      streamID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   runReq.Version.Model,
			Choices: []chatChoice{{
				Delta: &responseMessage{
					Role:      "assistant",
					Content:   chunk.Delta,
					Reasoning: chunk.Reasoning,
					ToolCalls: deltaToolCalls(chunk.ToolCallRequests),
				},
			}},
		}
		return writeSSE(w, flusher, wire)
	}

	completion, err := exec.Stream(r.Context(), runReq, emit)
	if completion != nil {
		s.storeCompletion(tenantUID, completion)
	}
	if err != nil {
		_, body := errorResponse(err)
		if encodeErr := writeSSE(w, flusher, body); encodeErr != nil {
			s.log.Debug("terminal stream error lost", "error", encodeErr)
		}
		return
	}

	final := s.toChatResponse(completion)
	final.Object = "chat.completion.chunk"
	final.ID = streamID
	for i := range final.Choices {
		final.Choices[i].Delta = final.Choices[i].Message
		final.Choices[i].Message = nil
	}
	if err := writeSSE(w, flusher, final); err != nil {
		return
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func deltaToolCalls(deltas []models.ToolCallRequestDelta) []chatToolCall {
	out := make([]chatToolCall, 0, len(deltas))
	for _, d := range deltas {
		call := chatToolCall{ID: d.ID, Type: "function"}
		call.Function.Name = d.ToolName
		call.Function.Arguments = d.Arguments
		out = append(out, call)
	}
	return out
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
