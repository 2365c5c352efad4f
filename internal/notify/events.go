package notify

import (
	"time"

	"github.com/google/uuid"
	"parkbeat-backend/internal/models"
)

const (
	TypeProjectUpdated   = "project_updated"
	TypeValidationResult = "validation_result"
	TypeCommandAck       = "command_ack"
	TypeError            = "error"
)

// Change reasons carried on project_updated. Clients re-fetch regardless of reason.
const (
	ReasonSuggestionsCleared = "suggestions_cleared"
	ReasonSuggestionsCreated = "suggestions_created"
	ReasonEstimateUpdated    = "estimate_updated"
	ReasonImagesUpdated      = "images_updated"
	ReasonGenerationFinished = "generation_finished"
	ReasonImageAdded         = "image_added"
)

// Event is the JSON envelope written to sockets.
type Event struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Room is the channel name for a project.
func Room(projectID uuid.UUID) string {
	return "project:" + projectID.String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func ProjectUpdated(projectID uuid.UUID, reason string, suggestions []models.ProjectSuggestion) Event {
	payload := map[string]any{
		"reason": reason,
	}
	if suggestions != nil {
		payload["suggestions"] = suggestions
	}
	return Event{
		Type:      TypeProjectUpdated,
		ProjectID: projectID.String(),
		Payload:   payload,
		Timestamp: now(),
	}
}

func ValidationResult(requestID string, result *models.ValidateImageResponse) Event {
	return Event{
		Type:      TypeValidationResult,
		ProjectID: result.ProjectID,
		RequestID: requestID,
		Payload:   result,
		Timestamp: now(),
	}
}

func CommandAck(requestID, command, status string) Event {
	return Event{
		Type:      TypeCommandAck,
		RequestID: requestID,
		Payload: map[string]any{
			"command": command,
			"status":  status,
		},
		Timestamp: now(),
	}
}

func ErrorEvent(requestID, message string) Event {
	return Event{
		Type:      TypeError,
		RequestID: requestID,
		Payload: map[string]any{
			"error": message,
		},
		Timestamp: now(),
	}
}
