package amqp

import (
	"encoding/json"
	"time"
)

// SyncRequest asks the worker to run one user's transaction sync. It carries
// only the user id and why the sync was requested; the worker reads
// everything else from storage. Redelivery is harmless because sync is
// idempotent.
type SyncRequest struct {
	UserID    int64     `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Reasons recorded on sync requests, for log correlation.
const (
	ReasonManual    = "manual"
	ReasonWebhook   = "webhook"
	ReasonScheduled = "scheduled"
	ReasonStartup   = "startup"
)

func NewSyncRequest(userID int64, reason string) *SyncRequest {
	return &SyncRequest{
		UserID:    userID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *SyncRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SyncRequestFromJSON(data []byte) (*SyncRequest, error) {
	var msg SyncRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
