package event

import "time"

const (
	Version  = 1
	Producer = "view-service"

	RoutingProfileViewed        = "profile.viewed"
	RoutingProfileViewsRepaired = "profile.views_repaired"
	RoutingProfileCreated       = "profile.created"
)

// DomainEventEnvelope is the canonical envelope consumed across services.
// NOTE: message_id is optional for backward compatibility.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// ProfileViewedPayload is published after a view commits.
// The viewer is deliberately absent: downstream consumers only need counts.
type ProfileViewedPayload struct {
	SubjectID  string    `json:"subject_id"`
	TotalViews int64     `json:"total_views"`
	ViewedAt   time.Time `json:"viewed_at"`
}

type ProfileViewsRepairedPayload struct {
	SubjectID     string `json:"subject_id"`
	OriginalCount int64  `json:"original_count"`
	ActualCount   int64  `json:"actual_count"`
}

// ProfileCreatedPayload is consumed from the profile owner.
// Accept both profile_id and legacy id.
type ProfileCreatedPayload struct {
	ProfileID string `json:"profile_id,omitempty"`
	ID        string `json:"id,omitempty"`
}
