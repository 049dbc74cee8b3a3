package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobType is the upstream task category.
type JobType int

const (
	JobTypePickup      JobType = 0
	JobTypeDelivery    JobType = 1
	JobTypeAppointment JobType = 2
	JobTypeOther       JobType = 3
)

func (t JobType) String() string {
	switch t {
	case JobTypePickup:
		return "pickup"
	case JobTypeDelivery:
		return "delivery"
	case JobTypeAppointment:
		return "appointment"
	case JobTypeOther:
		return "other"
	default:
		return "unknown"
	}
}

// JobStatus is the upstream task status code.
type JobStatus int

const (
	JobStatusAssigned     JobStatus = 0
	JobStatusStarted      JobStatus = 1
	JobStatusSuccessful   JobStatus = 2
	JobStatusFailed       JobStatus = 3
	JobStatusInProgress   JobStatus = 4
	JobStatusUnassigned   JobStatus = 6
	JobStatusAcknowledged JobStatus = 7
	JobStatusDeclined     JobStatus = 8
	JobStatusCancelled    JobStatus = 9
	JobStatusDeleted      JobStatus = 10
)

// AllJobStatuses is the status list sent with every listing request.
var AllJobStatuses = []JobStatus{
	JobStatusAssigned,
	JobStatusStarted,
	JobStatusSuccessful,
	JobStatusFailed,
	JobStatusInProgress,
	JobStatusUnassigned,
	JobStatusAcknowledged,
	JobStatusDeclined,
	JobStatusCancelled,
	JobStatusDeleted,
}

// Completed reports whether the job was delivered successfully.
func (s JobStatus) Completed() bool {
	return s == JobStatusSuccessful
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccessful, JobStatusFailed, JobStatusDeclined, JobStatusCancelled, JobStatusDeleted:
		return true
	}
	return false
}

// Pending is the complement of Terminal.
func (s JobStatus) Pending() bool {
	return !s.Terminal()
}

func (s JobStatus) String() string {
	switch s {
	case JobStatusAssigned:
		return "assigned"
	case JobStatusStarted:
		return "started"
	case JobStatusSuccessful:
		return "successful"
	case JobStatusFailed:
		return "failed"
	case JobStatusInProgress:
		return "in_progress"
	case JobStatusUnassigned:
		return "unassigned"
	case JobStatusAcknowledged:
		return "acknowledged"
	case JobStatusDeclined:
		return "declined"
	case JobStatusCancelled:
		return "cancelled"
	case JobStatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RawTask is an upstream task payload as decoded from JSON.
type RawTask map[string]any

// Contact is a name/phone/email/address tuple attached to a task.
type Contact struct {
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// Task is the cached, normalized form of an upstream task keyed by JobID.
//
// Nil timestamps mean "unknown in this payload" and never overwrite a stored value.
type Task struct {
	JobID     int64     `json:"job_id"`
	OrderID   string    `json:"order_id"`
	JobType   JobType   `json:"job_type"`
	JobStatus JobStatus `json:"job_status"`

	CODAmount decimal.NullDecimal `json:"cod_amount"`
	OrderFees decimal.Decimal     `json:"order_fees"`

	Customer Contact `json:"customer"`
	Pickup   Contact `json:"pickup"`
	Delivery Contact `json:"delivery"`

	FleetID   int64   `json:"fleet_id"`
	FleetName string  `json:"fleet_name"`
	Tags      *string `json:"tags,omitempty"`

	CreationDatetime     *time.Time `json:"creation_datetime,omitempty"`
	StartedDatetime      *time.Time `json:"started_datetime,omitempty"`
	AcknowledgedDatetime *time.Time `json:"acknowledged_datetime,omitempty"`
	CompletedDatetime    *time.Time `json:"completed_datetime,omitempty"`

	RawData      string    `json:"raw_data"`
	Source       string    `json:"source"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Enrichment holds detail-only fields. Nil values mean "not available".
type Enrichment struct {
	Tags      *string             `json:"tags,omitempty"`
	CODAmount decimal.NullDecimal `json:"cod_amount"`
}

// EnrichmentUpdate is a column-scoped write of enrichment fields for one job.
type EnrichmentUpdate struct {
	JobID int64
	Enrichment
}
