package ordersync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"dispatchsync/internal/models"

	"github.com/shopspring/decimal"
)

// ErrMissingJobID is returned for records without a usable job_id.
var ErrMissingJobID = errors.New("record has no job_id")

// Column limits of the tasks table.
const (
	maxOrderIDLen = 64
	maxNameLen    = 255
	maxPhoneLen   = 32
	maxEmailLen   = 255
	maxAddressLen = 512
	maxCoordLen   = 32
	maxTagsLen    = 1024
)

// FieldTable lists, per canonical field, the upstream keys to try in order.
// The first key holding a non-empty value wins.
type FieldTable struct {
	JobID     []string
	OrderID   []string
	JobType   []string
	JobStatus []string
	CODAmount []string
	OrderFees []string

	CustomerName    []string
	CustomerPhone   []string
	CustomerEmail   []string
	CustomerAddress []string

	PickupName      []string
	PickupPhone     []string
	PickupAddress   []string
	PickupLatitude  []string
	PickupLongitude []string

	DeliveryName      []string
	DeliveryPhone     []string
	DeliveryAddress   []string
	DeliveryLatitude  []string
	DeliveryLongitude []string

	FleetID   []string
	FleetName []string
	Tags      []string

	CreationDatetime     []string
	StartedDatetime      []string
	AcknowledgedDatetime []string
	CompletedDatetime    []string
}

// DefaultFieldTable matches the dispatch API's listing payloads.
var DefaultFieldTable = FieldTable{
	JobID:     []string{"job_id", "jobId", "id"},
	OrderID:   []string{"order_id", "orderId", "merchant_order_id"},
	JobType:   []string{"job_type", "jobType"},
	JobStatus: []string{"job_status", "status"},
	CODAmount: []string{"cod_amount", "cod"},
	OrderFees: []string{"order_fees", "order_payment", "total_amount"},

	CustomerName:    []string{"customer_username", "customer_name", "job_pickup_name"},
	CustomerPhone:   []string{"customer_phone", "job_pickup_phone"},
	CustomerEmail:   []string{"customer_email", "job_pickup_email"},
	CustomerAddress: []string{"customer_address", "job_address"},

	PickupName:      []string{"job_pickup_name", "pickup_name"},
	PickupPhone:     []string{"job_pickup_phone", "pickup_phone"},
	PickupAddress:   []string{"job_pickup_address", "pickup_address"},
	PickupLatitude:  []string{"job_pickup_latitude", "pickup_latitude"},
	PickupLongitude: []string{"job_pickup_longitude", "pickup_longitude"},

	DeliveryName:      []string{"customer_username", "delivery_name"},
	DeliveryPhone:     []string{"customer_phone", "delivery_phone"},
	DeliveryAddress:   []string{"job_address", "delivery_address", "customer_address"},
	DeliveryLatitude:  []string{"job_latitude", "delivery_latitude"},
	DeliveryLongitude: []string{"job_longitude", "delivery_longitude"},

	FleetID:   []string{"fleet_id", "driver_id"},
	FleetName: []string{"fleet_name", "driver_name"},
	Tags:      []string{"tags"},

	CreationDatetime:     []string{"creation_datetime", "job_time", "created_at"},
	StartedDatetime:      []string{"started_datetime", "start_datetime"},
	AcknowledgedDatetime: []string{"acknowledged_datetime", "accepted_datetime"},
	CompletedDatetime:    []string{"completed_datetime", "job_delivery_datetime_completed", "completed_at"},
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"01/02/2006 03:04 pm",
	"01/02/2006 15:04",
	"2006-01-02",
}

// Transformer maps raw upstream records onto models.Task.
type Transformer struct {
	Fields FieldTable
}

func NewTransformer() Transformer {
	return Transformer{Fields: DefaultFieldTable}
}

// Transform normalizes raw. Lifecycle timestamps that are absent, empty or the
// all-zero placeholder are left nil so that the store keeps what it has.
func (t Transformer) Transform(raw models.RawTask, now time.Time) (models.Task, error) {
	f := t.Fields

	jobID := toInt64(first(raw, f.JobID))
	if jobID <= 0 {
		return models.Task{}, ErrMissingJobID
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return models.Task{}, fmt.Errorf("encode raw record %d: %w", jobID, err)
	}

	task := models.Task{
		JobID:     jobID,
		OrderID:   str(raw, f.OrderID, maxOrderIDLen),
		JobType:   models.JobType(toInt64(first(raw, f.JobType))),
		JobStatus: models.JobStatus(toInt64(first(raw, f.JobStatus))),
		OrderFees: toDecimal(first(raw, f.OrderFees)),

		Customer: models.Contact{
			Name:    str(raw, f.CustomerName, maxNameLen),
			Phone:   str(raw, f.CustomerPhone, maxPhoneLen),
			Email:   str(raw, f.CustomerEmail, maxEmailLen),
			Address: str(raw, f.CustomerAddress, maxAddressLen),
		},
		Pickup: models.Contact{
			Name:      str(raw, f.PickupName, maxNameLen),
			Phone:     str(raw, f.PickupPhone, maxPhoneLen),
			Address:   str(raw, f.PickupAddress, maxAddressLen),
			Latitude:  str(raw, f.PickupLatitude, maxCoordLen),
			Longitude: str(raw, f.PickupLongitude, maxCoordLen),
		},
		Delivery: models.Contact{
			Name:      str(raw, f.DeliveryName, maxNameLen),
			Phone:     str(raw, f.DeliveryPhone, maxPhoneLen),
			Address:   str(raw, f.DeliveryAddress, maxAddressLen),
			Latitude:  str(raw, f.DeliveryLatitude, maxCoordLen),
			Longitude: str(raw, f.DeliveryLongitude, maxCoordLen),
		},

		FleetID:   toInt64(first(raw, f.FleetID)),
		FleetName: str(raw, f.FleetName, maxNameLen),

		CreationDatetime:     toTime(first(raw, f.CreationDatetime)),
		StartedDatetime:      toTime(first(raw, f.StartedDatetime)),
		AcknowledgedDatetime: toTime(first(raw, f.AcknowledgedDatetime)),
		CompletedDatetime:    toTime(first(raw, f.CompletedDatetime)),

		RawData:      string(rawJSON),
		Source:       models.SourceAPISync,
		LastSyncedAt: now.UTC(),
	}

	if cod, ok := parseDecimal(first(raw, f.CODAmount)); ok {
		task.CODAmount = decimal.NewNullDecimal(cod)
	}
	if tags := str(raw, f.Tags, maxTagsLen); tags != "" {
		task.Tags = &tags
	}
	return task, nil
}

// JobID resolves only the job id of raw, 0 when missing.
func (t Transformer) JobID(raw models.RawTask) int64 {
	return toInt64(first(raw, t.Fields.JobID))
}

func first(raw models.RawTask, keys []string) any {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

func str(raw models.RawTask, keys []string, limit int) string {
	return truncateRunes(toString(first(raw, keys)), limit)
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		return int64(val)
	case int:
		return int64(val)
	case int64:
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		return 0
	case string:
		s := strings.TrimSpace(val)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

func toDecimal(v any) decimal.Decimal {
	d, ok := parseDecimal(v)
	if !ok {
		return decimal.Zero
	}
	return d
}

func toTime(v any) *time.Time {
	s := toString(v)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
