package domain

import (
	"strings"
	"time"
)

type SwapStatus string

const (
	StatusPending   SwapStatus = "pending"
	StatusAccepted  SwapStatus = "accepted"
	StatusRejected  SwapStatus = "rejected"
	StatusCancelled SwapStatus = "cancelled"
	StatusCompleted SwapStatus = "completed"
)

// Statuses lists every swap status in lifecycle order.
var Statuses = []SwapStatus{StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted}

// Terminal reports whether no further transition is legal from s.
func (s SwapStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

func (s SwapStatus) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

var Actions = []Action{ActionAccept, ActionReject, ActionCancel, ActionComplete}

func (a Action) Valid() bool {
	for _, v := range Actions {
		if v == a {
			return true
		}
	}
	return false
}

type SkillCategory string

const (
	CategoryTechnology SkillCategory = "technology"
	CategoryLanguage   SkillCategory = "language"
	CategoryMusic      SkillCategory = "music"
	CategoryArt        SkillCategory = "art"
	CategorySports     SkillCategory = "sports"
	CategoryCooking    SkillCategory = "cooking"
	CategoryBusiness   SkillCategory = "business"
	CategoryAcademic   SkillCategory = "academic"
	CategoryCrafts     SkillCategory = "crafts"
	CategoryOther      SkillCategory = "other"
)

var Categories = []SkillCategory{
	CategoryTechnology, CategoryLanguage, CategoryMusic, CategoryArt, CategorySports,
	CategoryCooking, CategoryBusiness, CategoryAcademic, CategoryCrafts, CategoryOther,
}

func (c SkillCategory) Valid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// NormalizeSkillName trims, lower-cases and collapses inner whitespace.
func NormalizeSkillName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

type Skill struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Category   SkillCategory `json:"category" enum:"technology,language,music,art,sports,cooking,business,academic,crafts,other"`
	Active     bool          `json:"active"`
	UsageCount int64         `json:"usage_count"`
	CreatedAt  time.Time     `json:"created_at"`
}

type Reputation struct {
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int64   `json:"total_ratings"`
}

type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name,omitempty"`
	Suspended   bool       `json:"suspended"`
	Reputation  Reputation `json:"reputation"`
	CreatedAt   time.Time  `json:"created_at"`
}

type SkillKind string

const (
	SkillOffered SkillKind = "offered"
	SkillWanted  SkillKind = "wanted"
)

// CapabilitySet holds the skill ids a user offers and wants.
type CapabilitySet struct {
	UserID  string   `json:"user_id"`
	Offered []string `json:"offered"`
	Wanted  []string `json:"wanted"`
}

func (c CapabilitySet) Offers(skillID string) bool {
	return contains(c.Offered, skillID)
}

func (c CapabilitySet) Wants(skillID string) bool {
	return contains(c.Wanted, skillID)
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

type Swap struct {
	ID             string     `json:"id"`
	RequesterID    string     `json:"requester_id"`
	ResponderID    string     `json:"responder_id"`
	OfferedSkill   string     `json:"offered_skill_id"`
	RequestedSkill string     `json:"requested_skill_id"`
	Status         SwapStatus `json:"status" enum:"pending,accepted,rejected,cancelled,completed"`
	Message        string     `json:"message,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Involves reports whether userID is one of the two parties.
func (s Swap) Involves(userID string) bool {
	return userID != "" && (s.RequesterID == userID || s.ResponderID == userID)
}

// Counterparty returns the other party, or "" when userID is not a party.
func (s Swap) Counterparty(userID string) string {
	switch userID {
	case s.RequesterID:
		return s.ResponderID
	case s.ResponderID:
		return s.RequesterID
	}
	return ""
}

// LastStamp returns the most recent timestamp set on the record.
func (s Swap) LastStamp() time.Time {
	last := s.CreatedAt
	for _, ts := range []*time.Time{s.AcceptedAt, s.RejectedAt, s.CancelledAt, s.CompletedAt} {
		if ts != nil && ts.After(last) {
			last = *ts
		}
	}
	return last
}

// PairKey orders two user ids so {a,b} and {b,a} share a key.
func PairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

type Feedback struct {
	ID         string    `json:"id"`
	SwapID     string    `json:"swap_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Rating     int       `json:"rating" minimum:"1" maximum:"5"`
	Comment    string    `json:"comment,omitempty"`
	IsPublic   bool      `json:"is_public"`
	CreatedAt  time.Time `json:"created_at"`
}

type FeedbackStats struct {
	UserID        string  `json:"user_id"`
	Total         int64   `json:"total"`
	Given         int64   `json:"given"`
	Received      int64   `json:"received"`
	AverageRating float64 `json:"average_rating"`
}

type PageInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

type SwapPage struct {
	Items    []Swap   `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey binds a hashed key to the user it authenticates.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
