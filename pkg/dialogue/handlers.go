package dialogue

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/google/uuid"
)

// outcome is what a stage handler hands back to the engine: the validated
// (possibly overridden) decision, the outbound text, and the state copy with
// the handler's mutations applied.
type outcome struct {
	decision Decision
	content  string
	replies  []string
	state    State
	record   *models.MedicalRecordData
	referral *ReferralProposal
}

func (e *Engine) runCollection(ctx context.Context, record models.MedicalRecordData, state State, history []models.ChatMessage, message string) (outcome, error) {
	octx, cancel := e.oracleCtx(ctx)
	defer cancel()

	res, err := e.oracle.CollectInformation(octx, CollectionRequest{
		Record:        record,
		MissingFields: record.MissingFields(),
		History:       history,
		Message:       message,
	})
	if err != nil {
		return outcome{}, err
	}

	decision, err := ParseDecision(StageInformationCollection, res.Decision)
	if err != nil {
		return outcome{}, err
	}
	// Staying in collection means there is something left to ask; empty text
	// is only legal on the way out.
	if decision == DecisionInformationCollection && res.Content == "" {
		return outcome{}, fmt.Errorf("%w: information collection returned no question", ErrOracleContract)
	}

	if res.Note != "" {
		state.Note = res.Note
	}

	return outcome{
		decision: decision,
		content:  res.Content,
		replies:  res.SuggestedReplies,
		state:    state,
		record:   res.Record,
	}, nil
}

func (e *Engine) runQuestioning(ctx context.Context, record models.MedicalRecordData, state State, history []models.ChatMessage, message string) (outcome, error) {
	octx, cancel := e.oracleCtx(ctx)
	defer cancel()

	res, err := e.oracle.AskQuestion(octx, QuestioningRequest{
		Record:               record,
		Reasoning:            state.Reasoning,
		Note:                 state.Note,
		DiseasesAlreadyAsked: state.DiseasesAlreadyAsked,
		DiseaseToAsk:         state.DiseaseToAsk,
		NeedObstetricHistory: record.ObstetricSectionRequired(),
		History:              history,
		Message:              message,
	})
	if err != nil {
		return outcome{}, err
	}

	decision, err := ParseDecision(StageMainQuestioning, res.Decision)
	if err != nil {
		return outcome{}, err
	}
	if res.Content == "" {
		return outcome{}, fmt.Errorf("%w: questioning returned no text", ErrOracleContract)
	}

	if res.Reasoning != nil {
		state.Reasoning = res.Reasoning
	}
	state.Note = res.Note
	state.AdvanceFocus(res.NextDisease)

	out := outcome{
		decision: decision,
		content:  res.Content,
		replies:  res.SuggestedReplies,
		state:    state,
		record:   res.Record,
	}

	if decision == DecisionDiagnosis {
		effective := record
		if res.Record != nil {
			effective = *res.Record
		}
		if uncovered := state.Uncovered(); len(uncovered) > 0 {
			logger.Log.WithFields(map[string]interface{}{
				"uncovered": uncovered,
			}).Warn("Coverage guard overrode diagnosis decision")
			out.decision = DecisionMainQuestioning
		} else if effective.ObstetricSectionRequired() {
			logger.Log.Warn("Obstetric history missing, diagnosis deferred")
			out.decision = DecisionMainQuestioning
		}
	}

	return out, nil
}

func (e *Engine) runDiagnosis(ctx context.Context, record models.MedicalRecordData, state State, history []models.ChatMessage, previous *models.DiagnosisPaper) (*DiagnosisResult, error) {
	octx, cancel := e.oracleCtx(ctx)
	defer cancel()

	res, err := e.oracle.Diagnose(octx, DiagnosisRequest{
		Record:    record,
		History:   history,
		Note:      state.Note,
		Reasoning: state.Reasoning,
		Previous:  previous,
	})
	if err != nil {
		return nil, err
	}
	if res.Paper.ReasoningProcess == "" {
		return nil, fmt.Errorf("%w: diagnosis returned no reasoning process", ErrOracleContract)
	}
	if len(res.Paper.Diagnosis.PossibleDiagnoses) > 6 {
		res.Paper.Diagnosis.PossibleDiagnoses = res.Paper.Diagnosis.PossibleDiagnoses[:6]
	}
	return res, nil
}

func (e *Engine) runFollowUp(ctx context.Context, userID, recordID uuid.UUID, record models.MedicalRecordData, state State, history []models.ChatMessage, message string) (outcome, error) {
	paper, err := e.store.LatestDiagnosis(ctx, userID, recordID)
	if err != nil {
		return outcome{}, err
	}
	if paper == nil {
		return outcome{}, fmt.Errorf("no diagnosis artifact for record %s", recordID)
	}
	todos, err := e.store.Todos(ctx, userID, recordID)
	if err != nil {
		return outcome{}, err
	}

	var options map[string][]string
	if e.allowlist != nil {
		options = e.allowlist.Options()
	}

	octx, cancel := e.oracleCtx(ctx)
	defer cancel()

	res, err := e.oracle.FollowUp(octx, FollowUpRequest{
		Record:  record,
		Paper:   *paper,
		Todos:   todos,
		History: history,
		Message: message,
		Options: options,
	})
	if err != nil {
		return outcome{}, err
	}

	decision, err := ParseDecision(StageFinalSteps, res.Decision)
	if err != nil {
		return outcome{}, err
	}
	if res.Content == "" {
		return outcome{}, fmt.Errorf("%w: follow-up returned no text", ErrOracleContract)
	}

	out := outcome{
		decision: decision,
		content:  res.Content,
		replies:  res.SuggestedReplies,
		state:    state,
	}

	if res.Referral == ReferralSendContact {
		if res.Proposal == nil {
			return outcome{}, fmt.Errorf("%w: SEND_CONTACT without payload", ErrOracleContract)
		}
		if e.allowlist == nil || !e.allowlist.Validate(res.Proposal.Address, res.Proposal.Facility) {
			logger.Log.WithFields(map[string]interface{}{
				"address":  res.Proposal.Address,
				"facility": res.Proposal.Facility,
			}).Info("Referral proposal rejected by allow-list")
			out.content = strings.TrimSpace(res.Content + "\n\n" + referralRetryText(options))
		} else {
			out.referral = res.Proposal
		}
	}

	if decision == DecisionDiagnosis && record.ObstetricSectionRequired() {
		logger.Log.Warn("Obstetric history missing, re-diagnosis deferred")
		out.decision = DecisionFinalSteps
	}

	return out, nil
}

func referralRetryText(options map[string][]string) string {
	if len(options) == 0 {
		return "I cannot send your record right now: no partner facility is available."
	}
	addresses := make([]string, 0, len(options))
	for address := range options {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	var b strings.Builder
	b.WriteString("I can only send your record to a listed facility. Currently available:")
	for _, address := range addresses {
		b.WriteString("\n- ")
		b.WriteString(address)
		b.WriteString(": ")
		b.WriteString(strings.Join(options[address], ", "))
	}
	b.WriteString("\nWhich one should I use?")
	return b.String()
}
