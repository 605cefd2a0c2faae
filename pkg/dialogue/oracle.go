package dialogue

import (
	"context"

	"github.com/anamnesis-ai/platform/pkg/common/models"
)

// GenerationOracle is the external text/decision generator, one call per
// stage. Implementations must return an error wrapping ErrOracleContract
// when a response is structurally incomplete; they must never invent
// decision values. The engine owns validating decisions against the stage's
// enumeration.
type GenerationOracle interface {
	CollectInformation(ctx context.Context, req CollectionRequest) (*CollectionResult, error)
	AskQuestion(ctx context.Context, req QuestioningRequest) (*QuestioningResult, error)
	Diagnose(ctx context.Context, req DiagnosisRequest) (*DiagnosisResult, error)
	FollowUp(ctx context.Context, req FollowUpRequest) (*FollowUpResult, error)
}

// Information collection: fill mandatory demographic and lifestyle fields.

type CollectionRequest struct {
	Record        models.MedicalRecordData
	MissingFields []string
	History       []models.ChatMessage
	Message       string // empty on session creation
}

type CollectionResult struct {
	Content          string // empty means "no outbound turn produced"
	Decision         string // INFORMATION_COLLECTION | MAIN_QUESTIONING
	SuggestedReplies []string
	Record           *models.MedicalRecordData // set when extraction updated fields
	MissingFields    []string
	Note             string
}

// Main questioning: one symptom per turn, differential-directed.

type QuestioningRequest struct {
	Record               models.MedicalRecordData
	Reasoning            *models.Reasoning
	Note                 string
	DiseasesAlreadyAsked []string
	DiseaseToAsk         string
	NeedObstetricHistory bool
	History              []models.ChatMessage
	Message              string
}

type QuestioningResult struct {
	Content          string
	Decision         string // MAIN_QUESTIONING | DIAGNOSIS
	SuggestedReplies []string
	Reasoning        *models.Reasoning
	Note             string
	NextDisease      string // disease to ask on the next question
	Record           *models.MedicalRecordData
}

// Diagnosis: synthetic turn, no user input consumed.

type DiagnosisRequest struct {
	Record    models.MedicalRecordData
	History   []models.ChatMessage
	Note      string
	Reasoning *models.Reasoning
	Previous  *models.DiagnosisPaper // set when revising after follow-up
}

type DiagnosisResult struct {
	Content string
	Paper   models.DiagnosisPaper
	Record  *models.MedicalRecordData // completed record, overwrites in place
	Todos   []models.TodoItem
}

// Final steps: post-diagnosis conversation and referral proposal.

type ReferralAction string

const (
	ReferralNone        ReferralAction = "NONE"
	ReferralSendContact ReferralAction = "SEND_CONTACT"
)

type ReferralProposal struct {
	IncludeConversation bool   `json:"include_conversation"`
	Address             string `json:"address"`
	Facility            string `json:"facility"`
}

type FollowUpRequest struct {
	Record   models.MedicalRecordData
	Paper    models.DiagnosisPaper
	Todos    []models.TodoItem
	History  []models.ChatMessage
	Message  string
	Options  map[string][]string // address -> facilities allow-list
}

type FollowUpResult struct {
	Content          string
	Decision         string // FINAL_STEPS | DIAGNOSIS | END
	SuggestedReplies []string
	Referral         ReferralAction
	Proposal         *ReferralProposal // required when Referral == SEND_CONTACT
}
