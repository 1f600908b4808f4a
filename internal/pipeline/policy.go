package pipeline

// Policy is the coordinator's reaction to a stage failure. Keeping the table
// as data keeps the state machine auditable in one place.
type Policy int

const (
	// PolicyFatal fails the job immediately.
	PolicyFatal Policy = iota
	// PolicyDegrade continues with an empty result for the stage.
	PolicyDegrade
	// PolicyRetry retries per the stage's own schedule before failing.
	PolicyRetry
)

var stagePolicies = map[Stage]Policy{
	StageDecode:     PolicyFatal,
	StageOCR:        PolicyDegrade,
	StageTranscribe: PolicyDegrade,
	StageSynthesis:  PolicyRetry,
	StagePersist:    PolicyRetry,
}

func policyFor(stage Stage) Policy {
	policy, ok := stagePolicies[stage]
	if !ok {
		return PolicyFatal
	}
	return policy
}
