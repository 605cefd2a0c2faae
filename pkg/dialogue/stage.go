package dialogue

import "fmt"

// Stage is a persisted phase of the intake conversation. The set is closed:
// every stored stage value is produced by the transition table below,
// starting from StageInformationCollection.
type Stage string

const (
	StageInformationCollection Stage = "INFORMATION_COLLECTION"
	StageMainQuestioning       Stage = "MAIN_QUESTIONING"
	StageDiagnosis             Stage = "DIAGNOSIS"
	StageFinalSteps            Stage = "FINAL_STEPS"
)

// Decision is the stage handler's (oracle-backed) verdict for a turn. END is
// a conversation-level signal: it never becomes a persisted stage.
type Decision string

const (
	DecisionInformationCollection Decision = "INFORMATION_COLLECTION"
	DecisionMainQuestioning       Decision = "MAIN_QUESTIONING"
	DecisionDiagnosis             Decision = "DIAGNOSIS"
	DecisionFinalSteps            Decision = "FINAL_STEPS"
	DecisionEnd                   Decision = "END"
)

// transitions is the single transition table. A decision missing from a
// stage's row is a handler contract violation, not a fallback.
var transitions = map[Stage]map[Decision]Stage{
	StageInformationCollection: {
		DecisionInformationCollection: StageInformationCollection,
		DecisionMainQuestioning:       StageMainQuestioning,
	},
	StageMainQuestioning: {
		DecisionMainQuestioning: StageMainQuestioning,
		DecisionDiagnosis:       StageDiagnosis,
	},
	StageDiagnosis: {
		DecisionFinalSteps: StageFinalSteps,
	},
	StageFinalSteps: {
		DecisionFinalSteps: StageFinalSteps,
		DecisionDiagnosis:  StageDiagnosis,
		DecisionEnd:        StageFinalSteps,
	},
}

func (s Stage) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Next resolves the stage that follows a decision made in stage s.
func Next(s Stage, d Decision) (Stage, error) {
	row, ok := transitions[s]
	if !ok {
		return "", fmt.Errorf("%w: unknown stage %q", ErrOracleContract, s)
	}
	next, ok := row[d]
	if !ok {
		return "", fmt.Errorf("%w: decision %q is not valid in stage %q", ErrOracleContract, d, s)
	}
	return next, nil
}

// ParseDecision validates a raw oracle decision against the enumeration
// allowed for the given stage.
func ParseDecision(s Stage, raw string) (Decision, error) {
	d := Decision(raw)
	if _, err := Next(s, d); err != nil {
		return "", err
	}
	return d, nil
}
