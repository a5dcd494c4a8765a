package acadiosync

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Acadio API payloads. Each struct names only the attributes we consume; the
// raw page record is kept alongside on the local row for forward
// compatibility with attributes we do not model yet.

type acadioUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Department  string `json:"department"`
	Active      bool   `json:"active"`
	LastLoginAt string `json:"last_login_at"`
	UpdatedAt   string `json:"updated_at"`
}

type acadioGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberCount int    `json:"member_count"`
	UpdatedAt   string `json:"updated_at"`
}

type acadioCourse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Code      string      `json:"code"`
	Category  string      `json:"category"`
	Active    bool        `json:"active"`
	Credits   json.Number `json:"credits"`
	UpdatedAt string      `json:"updated_at"`
}

type acadioCourseProperty struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type acadioGroupMember struct {
	UserID string `json:"user_id"`
}

type acadioEnrollment struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	CourseID    string      `json:"course_id"`
	Status      string      `json:"status"`
	Score       json.Number `json:"score"`
	Progress    json.Number `json:"progress"`
	EnrolledAt  string      `json:"enrolled_at"`
	CompletedAt string      `json:"completed_at"`
	UpdatedAt   string      `json:"updated_at"`
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

// HTTP layer DTOs.

type TriggerSyncRequest struct {
	EntityType string `json:"entityType" binding:"required"`
	Mode       string `json:"mode"`
}

type StatusResponse struct {
	Status   string            `json:"status"`
	Current  *SyncSlot         `json:"current,omitempty"`
	Stale    bool              `json:"stale,omitempty"`
	Progress *ProgressSnapshot `json:"progress,omitempty"`
}

type SyncLogResponse struct {
	ID               uint    `json:"id"`
	EntityType       string  `json:"entityType"`
	Status           string  `json:"status"`
	Mode             string  `json:"mode"`
	StartedAt        string  `json:"startedAt"`
	CompletedAt      *string `json:"completedAt"`
	RecordsProcessed int     `json:"recordsProcessed"`
	RecordsCreated   int     `json:"recordsCreated"`
	RecordsUpdated   int     `json:"recordsUpdated"`
	RecordsFailed    int     `json:"recordsFailed"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
}

type SyncLogDetailResponse struct {
	SyncLogResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type AutoMatchRequest struct {
	DryRun    *bool   `json:"dryRun"`
	Threshold float64 `json:"threshold"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ScheduledSyncPayload is what Cloud Scheduler publishes: one ordered pass
// over every entity type, full or incremental.
type ScheduledSyncPayload struct {
	Mode string `json:"mode"`
}
