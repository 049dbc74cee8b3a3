package ordersync

import (
	"time"

	"dispatchsync/internal/models"
)

// PlanRequest describes the range to cover. Nil bounds mean "retention floor"
// and "today".
type PlanRequest struct {
	From            *time.Time
	To              *time.Time
	Now             time.Time
	WindowDays      int
	RetentionMonths int
}

// civilDay truncates t to UTC midnight.
func civilDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RetentionFloor is the oldest date the upstream still serves.
func RetentionFloor(now time.Time, months int) time.Time {
	if months <= 0 {
		months = models.RetentionMonths
	}
	return civilDay(now).AddDate(0, -months, 0)
}

// PlanBatches splits the requested range into contiguous, non-overlapping
// windows of WindowDays days, oldest first. The last window is clipped to the
// end date. A start before the retention floor is moved up to the floor.
func PlanBatches(req PlanRequest) []models.DateBatch {
	window := req.WindowDays
	if window <= 0 {
		window = models.DefaultWindowDays
	}

	floor := RetentionFloor(req.Now, req.RetentionMonths)
	start := floor
	if req.From != nil {
		start = civilDay(*req.From)
	}
	if start.Before(floor) {
		start = floor
	}

	end := civilDay(req.Now)
	if req.To != nil {
		end = civilDay(*req.To)
	}
	if start.After(end) {
		return nil
	}

	var batches []models.DateBatch
	for cur := start; !cur.After(end); {
		batchEnd := cur.AddDate(0, 0, window-1)
		if batchEnd.After(end) {
			batchEnd = end
		}
		batches = append(batches, models.DateBatch{Start: cur, End: batchEnd})
		cur = batchEnd.AddDate(0, 0, 1)
	}
	return batches
}
