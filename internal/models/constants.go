package models

const (
	// SyncTypeOrders tracks full and incremental order syncs.
	SyncTypeOrders = "orders"
	// SyncTypeOrderTags tracks tag/COD-only refreshes.
	SyncTypeOrderTags = "order_tags"
)

// Origins of a cached task row; set on insert only.
const (
	SourceAPISync = "api_sync"
	SourceWebhook = "webhook"
	SourceManual  = "manual"
)

func ValidSource(s string) bool {
	switch s {
	case SourceAPISync, SourceWebhook, SourceManual:
		return true
	}
	return false
}

const (
	// RetentionMonths is how far back the dispatch API keeps task history.
	RetentionMonths = 6

	// DefaultWindowDays days per listing window
	DefaultWindowDays = 1

	// DefaultPageSize rows requested per listing call
	DefaultPageSize = 200

	// DefaultMaxPages safety ceiling per job type and window
	DefaultMaxPages = 50

	// DefaultDetailBatchSize job ids per detail call
	DefaultDetailBatchSize = 50

	// DefaultChunkSize records per store write
	DefaultChunkSize = 50

	// DateLayout is the upstream start_date/end_date format.
	DateLayout = "2006-01-02"
)
