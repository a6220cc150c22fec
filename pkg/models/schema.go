package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateNotificationEnvelope(env *NotificationEnvelope) error {
	if env == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "notification envelope cannot be nil",
		}
	}

	if len(env.RawPayload) == 0 {
		return &ValidationError{
			Field:   "raw_payload",
			Message: "raw payload is required",
		}
	}

	if env.ReceivedAt.IsZero() {
		return &ValidationError{
			Field:   "received_at",
			Message: "received_at is required",
		}
	}

	return nil
}

// ValidateVideoUpdate checks the required identifiers. Deletion notices may omit the channel.
func ValidateVideoUpdate(u *VideoUpdate) error {
	if u == nil {
		return &ValidationError{
			Field:   "update",
			Message: "video update cannot be nil",
		}
	}

	if u.VideoID == "" {
		return &ValidationError{
			Field:   "video_id",
			Message: "video ID is required",
		}
	}

	if !u.IsDeletion && u.ChannelID == "" {
		return &ValidationError{
			Field:   "channel_id",
			Message: "channel ID is required",
		}
	}

	if u.UpdatedAt.IsZero() {
		return &ValidationError{
			Field:   "updated_at",
			Message: "updated_at is required",
		}
	}

	return nil
}
