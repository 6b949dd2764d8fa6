package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anotherai-dev/anotherai/internal/blob"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const completionFilesFolder = "completions"

// OnStoreCompletion builds the handler that persists a finished completion:
// it fills in previews, offloads inline file bytes to blob storage, and
// writes the row to the analytics store.
func OnStoreCompletion(analytics storage.Analytics, blobs blob.Store, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	return Handler{
		Name: "store_completion",
		Run: func(ctx context.Context, event Event) error {
			var payload StoreCompletionPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				return fmt.Errorf("decode store_completion payload: %w", err)
			}
			completion := &payload.Completion
			completion.AgentInput.AssignPreview()
			completion.AgentOutput.AssignPreview()

			if err := materializeFiles(ctx, event.TenantUID, completion, blobs); err != nil {
				// A failed upload drops the bytes, never the completion row.
				log.Warn("storing completion files",
					"completion_id", completion.ID, "error", err)
			}
			return analytics.StoreCompletion(ctx, event.TenantUID, completion)
		},
	}
}

// materializeFiles uploads inline file bytes across all message lists and
// rewrites each file to reference its stored URL. Data never reaches the
// analytics store.
func materializeFiles(ctx context.Context, tenantUID string, completion *models.AgentCompletion, blobs blob.Store) error {
	var firstErr error
	for _, messages := range [][]models.Message{
		completion.AgentInput.Messages,
		completion.AgentOutput.Messages,
		completion.Messages,
	} {
		for i := range messages {
			for file := range messages[i].Files() {
				if err := materializeFile(ctx, tenantUID, file, blobs); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func materializeFile(ctx context.Context, tenantUID string, file *models.File, blobs blob.Store) error {
	if file.StorageURL != "" {
		file.Data = ""
		return nil
	}
	// Sanitize folds a data: URI url into Data, leaving the url empty.
	if err := file.Sanitize(); err != nil {
		return err
	}
	if file.URL != "" {
		// A remote url is already externalized; a redundant inline copy of
		// its bytes stays out of the analytics store.
		file.Data = ""
		return nil
	}
	if !file.HasData() {
		return nil
	}
	data, err := file.Bytes()
	if err != nil {
		return err
	}
	key := blob.Key(tenantUID, completionFilesFolder, data, file.ContentType)
	url, err := blobs.Put(ctx, key, data, file.ContentType)
	if err != nil {
		return fmt.Errorf("upload completion file: %w", err)
	}
	file.StorageURL = url
	file.URL = url
	file.Data = ""
	return nil
}

// OnUserConnected logs a session start. Attribution is best effort.
func OnUserConnected(log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	return Handler{
		Name: "user_connected",
		Run: func(ctx context.Context, event Event) error {
			var payload UserConnectedPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				return fmt.Errorf("decode user_connected payload: %w", err)
			}
			log.Info("user connected",
				"tenant_uid", event.TenantUID,
				"user_id", payload.UserID,
				"org_id", payload.OrgID)
			return nil
		},
	}
}
