package server

import (
	"encoding/json"

	"skillswap/internal/domain"
)

type CreateSwapRequest struct {
	ResponderID      string `json:"responder_id" minLength:"1"`
	OfferedSkillID   string `json:"offered_skill_id" minLength:"1"`
	RequestedSkillID string `json:"requested_skill_id" minLength:"1"`
	Message          string `json:"message,omitempty"`
}

type TransitionRequest struct {
	Action string `json:"action" enum:"accept,reject,cancel,complete"`
	Reason string `json:"reason,omitempty"`
}

type SubmitFeedbackRequest struct {
	ToUserID string `json:"to_user_id,omitempty" doc:"Defaults to the other party of the swap"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment,omitempty"`
	IsPublic *bool  `json:"is_public,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source" enum:"jwt,api_key"`
}

type ReputationResponse struct {
	UserID        string  `json:"user_id"`
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int64   `json:"total_ratings"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type skillList struct {
	Items []domain.Skill `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
