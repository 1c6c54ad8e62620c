package system

// Stats is a point-in-time snapshot of runtime counters.
type Stats struct {
	State            State                 `json:"state"`
	Submitted        uint64                `json:"submitted"`
	Completed        uint64                `json:"completed"`
	Failed           uint64                `json:"failed"`
	Canceled         uint64                `json:"canceled"`
	CallbackFailures uint64                `json:"callback_failures"`
	Pending          int64                 `json:"pending"`
	Actors           map[string]ActorStats `json:"actors"`
}

type ActorStats struct {
	Workers       int `json:"workers"`
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity,omitempty"`
}

func (r *Runtime) Stats() Stats {
	stats := Stats{
		State:            r.State(),
		Submitted:        r.submitted.Load(),
		Completed:        r.completed.Load(),
		Failed:           r.failed.Load(),
		Canceled:         r.canceled.Load(),
		CallbackFailures: r.callbackFailures.Load(),
		Pending:          r.pending.Load(),
		Actors:           make(map[string]ActorStats, len(r.actors)),
	}

	for name, cell := range r.actors {
		stats.Actors[name] = ActorStats{
			Workers:       cell.workers,
			QueueDepth:    cell.mailbox.Len(),
			QueueCapacity: cell.mailbox.Capacity(),
		}
	}

	return stats
}
