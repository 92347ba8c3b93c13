package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/vrosnet/hadc/internal/history"
	"github.com/vrosnet/hadc/internal/slotlock"
	"github.com/vrosnet/hadc/internal/store"
)

// recordObservability snapshots every slot of kind and persists/exports its
// current state best-effort: a Store or Sink error never fails the calling
// command, it is only logged. Grounded on internal/manager/manager.go's
// recordStart/recordStop hooks, generalized from "one process" to "one
// slot snapshot per reconciliation pass". When process metrics are
// enabled, the same snapshot also drives a one-shot per-slot CPU/memory
// collection pass.
func (s *Supervisor) recordObservability(ctx context.Context, kind slotlock.Kind) {
	statuses := s.slotStatuses(kind)

	if s.procMetrics != nil {
		processes := make(map[string]int32, len(statuses))
		for _, st := range statuses {
			if st.Alive {
				processes[fmt.Sprintf("%s-%d", kind.String(), st.ID)] = int32(st.PID)
			}
		}
		s.procMetrics.CollectOnce(processes)
	}

	if s.Store == nil && len(s.History) == 0 {
		return
	}
	now := time.Now()
	for _, st := range statuses {
		rec := store.Record{
			Name:      s.Config.Name,
			Kind:      kind.String(),
			Slot:      st.ID,
			PID:       st.PID,
			Running:   st.Alive,
			UpdatedAt: now,
		}
		if st.Alive {
			rec.StartedAt = now
		}
		s.persist(ctx, rec)
	}
}

func (s *Supervisor) persist(ctx context.Context, rec store.Record) {
	if s.Store != nil {
		if err := s.Store.UpsertStatus(ctx, rec); err != nil {
			s.Logger.Warn("store upsert failed", "kind", rec.Kind, "slot", rec.Slot, "err", err)
		}
	}
	if len(s.History) == 0 {
		return
	}
	evt := history.Event{OccurredAt: time.Now(), Record: rec}
	evt.Type = history.EventStart
	if !rec.Running {
		evt.Type = history.EventStop
	}
	for _, sink := range s.History {
		if err := sink.Send(ctx, evt); err != nil {
			s.Logger.Warn("history sink send failed", "kind", rec.Kind, "slot", rec.Slot, "err", err)
		}
	}
}
