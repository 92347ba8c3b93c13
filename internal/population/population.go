// Package population names the fixed-size main/standby pools a Supervisor
// reconciles toward, adapted from the teacher's process_group.Group (which
// grouped named processes under one GroupSpec and aggregated their status
// across a manager.Manager) into a read-model over supervisor.Supervisor:
// there is exactly one population per config file here, not an arbitrary
// set of named members, so the aggregation collapses to pairing the two
// kind-scoped pools a single Supervisor already tracks.
package population

import (
	"github.com/vrosnet/hadc/internal/slotlock"
	"github.com/vrosnet/hadc/internal/supervisor"
)

// Pool is one kind's slice of observed slots alongside its configured size.
type Pool struct {
	Kind     slotlock.Kind
	Expected int
	Slots    []supervisor.SlotStatus
}

// Healthy reports whether at least Expected slots in the pool are alive.
func (p Pool) Healthy() bool {
	alive := 0
	for _, s := range p.Slots {
		if s.Alive {
			alive++
		}
	}
	return alive >= p.Expected
}

// Snapshot pairs a Supervisor's live status with its configured pool sizes.
type Snapshot struct {
	Name     string
	Mains    Pool
	Standbys Pool
}

// Observe builds a Snapshot from sup's current configuration and status.
func Observe(sup *supervisor.Supervisor) Snapshot {
	st := sup.Status()
	return Snapshot{
		Name:     sup.Config.Name,
		Mains:    Pool{Kind: slotlock.KindMain, Expected: sup.Config.MaxProcs, Slots: st.Mains},
		Standbys: Pool{Kind: slotlock.KindStandby, Expected: sup.Config.StandbyMaxProcs, Slots: st.Standbys},
	}
}

// Lines renders one PrettyPrint line per observed slot across both pools.
func (s Snapshot) Lines() []string {
	lines := make([]string, 0, len(s.Mains.Slots)+len(s.Standbys.Slots))
	for _, slot := range s.Mains.Slots {
		lines = append(lines, supervisor.PrettyPrint(s.Name, slot))
	}
	for _, slot := range s.Standbys.Slots {
		lines = append(lines, supervisor.PrettyPrint(s.Name, slot))
	}
	return lines
}

// Healthy reports whether both pools have reached their expected size.
// status's exit code (spec.md §6: "1 when any expected worker is absent")
// is derived from this.
func (s Snapshot) Healthy() bool { return s.Mains.Healthy() && s.Standbys.Healthy() }
