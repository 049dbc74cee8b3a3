package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// LogSyncEvents subscribes a handler that writes every sync lifecycle event to logger.
func LogSyncEvents(bus *EventBus, logger zerolog.Logger) {
	handler := func(event *Event) error {
		var p SyncEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			logger.Warn().Err(err).Str("event", event.Type).Msg("undecodable sync event")
			return err
		}

		ev := logger.Info()
		switch event.Type {
		case EventSyncFailed:
			ev = logger.Error()
		case EventSyncBatchCompleted:
			ev = logger.Debug()
		}
		ev.Str("event", event.Type).
			Str("sync_type", p.SyncType).
			Str("mode", p.Mode).
			Str("run_id", p.RunID).
			Str("batch", p.Batch).
			Int("completed_batches", p.CompletedBatches).
			Int("total_batches", p.TotalBatches).
			Int("synced", p.Synced).
			Int("failed", p.Failed).
			Str("error", p.Error).
			Msg("sync event")
		return nil
	}

	for _, t := range []string{EventSyncStarted, EventSyncBatchCompleted, EventSyncCompleted, EventSyncFailed} {
		bus.Subscribe(t, handler)
	}
}
