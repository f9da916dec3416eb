package migration

// Phase is one step of a migration run. Phases run in declaration order.
type Phase int

const (
	PhaseValidation Phase = iota
	PhaseBackup
	PhaseSchemaMigration
	PhaseHypertableSetup
	PhaseContinuousAggregates
	PhaseIndexes
	PhaseConstraints
	PhaseVerification
	PhaseCleanup

	// PhaseRollback marks a rolled back run. It is never appended to PhasesCompleted.
	PhaseRollback
)

var phaseNames = [...]string{
	"VALIDATION",
	"BACKUP",
	"SCHEMA_MIGRATION",
	"HYPERTABLE_SETUP",
	"CONTINUOUS_AGGREGATES",
	"INDEXES",
	"CONSTRAINTS",
	"VERIFICATION",
	"CLEANUP",
	"ROLLBACK",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// AllPhases returns the forward phases in execution order.
func AllPhases() []Phase {
	phases := make([]Phase, 0, PhaseCleanup+1)
	for p := PhaseValidation; p <= PhaseCleanup; p++ {
		phases = append(phases, p)
	}
	return phases
}
