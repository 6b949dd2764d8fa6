package experiments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anotherai-dev/anotherai/internal/events"
	"github.com/anotherai-dev/anotherai/internal/runner"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// Runner executes one completion. Satisfied by *runner.Runner.
type Runner interface {
	Run(ctx context.Context, req *runner.Request) (*models.AgentCompletion, error)
}

// RunnerFactory builds a runner bound to a tenant-scoped completion cache.
type RunnerFactory func(cache runner.CompletionCache) Runner

// OnCompletionRequest runs one (version, input) tuple of an experiment: it
// executes the completion, persists it and registers the run id so Wait can
// settle. Provider failures still produce a stored completion row.
func OnCompletionRequest(o *Orchestrator, analytics storage.Analytics, newRunner RunnerFactory, log *slog.Logger) events.Handler {
	return events.Handler{
		Name: events.TypeCompletionRequest,
		Run: func(ctx context.Context, event events.Event) error {
			var payload events.CompletionRequestPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				return fmt.Errorf("decode completion request payload: %w", err)
			}
			exp, err := o.get(ctx, event.TenantUID, payload.ExperimentID)
			if err != nil {
				return err
			}
			version, input, err := experimentTuple(exp, payload.VersionID, payload.InputID)
			if err != nil {
				return err
			}

			exec := newRunner(storage.ScopedCache{Analytics: analytics, TenantUID: event.TenantUID})
			completion, runErr := exec.Run(ctx, &runner.Request{
				Agent:   models.Agent{ID: payload.AgentID},
				Version: *version,
				Input:   *input,
				Source:  models.SourceAPI,
				Metadata: map[string]string{
					"experiment_id": payload.ExperimentID,
				},
			})
			if completion == nil {
				return fmt.Errorf("experiment %s tuple (%s, %s): %w",
					payload.ExperimentID, payload.VersionID, payload.InputID, runErr)
			}
			if runErr != nil {
				log.Warn("experiment completion failed",
					"experiment_id", payload.ExperimentID,
					"version_id", payload.VersionID,
					"input_id", payload.InputID,
					"error", runErr)
			}

			completion.AgentInput.AssignPreview()
			completion.AgentOutput.AssignPreview()
			if err := analytics.StoreCompletion(ctx, event.TenantUID, completion); err != nil {
				return fmt.Errorf("store experiment completion: %w", err)
			}
			return o.AddRunID(ctx, event.TenantUID, payload.ExperimentID, completion.ID)
		},
	}
}

func experimentTuple(exp *models.Experiment, versionID, inputID string) (*models.Version, *models.AgentInput, error) {
	var version *models.Version
	for i := range exp.Versions {
		if exp.Versions[i].ID == versionID {
			version = &exp.Versions[i]
			break
		}
	}
	if version == nil {
		return nil, nil, fmt.Errorf("version %q is not part of experiment %q", versionID, exp.ID)
	}
	var input *models.AgentInput
	for i := range exp.Inputs {
		if exp.Inputs[i].ID == inputID {
			input = &exp.Inputs[i]
			break
		}
	}
	if input == nil {
		return nil, nil, fmt.Errorf("input %q is not part of experiment %q", inputID, exp.ID)
	}
	return version, input, nil
}
