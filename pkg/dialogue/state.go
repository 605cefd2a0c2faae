package dialogue

import (
	"github.com/anamnesis-ai/platform/pkg/common/models"
)

// State is the orchestration state for one (user, record) pair. It is the
// single source of truth for what happens next; chat log and diagnosis rows
// are evidence it references but never embeds. Stored as one upserted JSON
// row, read-modified-written once per turn.
type State struct {
	Stage                Stage             `json:"stage"`
	Reasoning            *models.Reasoning `json:"reasoning,omitempty"`
	Note                 string            `json:"note"`
	DiseasesToAsk        []string          `json:"diseases_to_ask"`
	DiseasesAlreadyAsked []string          `json:"diseases_already_asked"`
	DiseaseToAsk         string            `json:"disease_to_ask"`
}

func NewState() State {
	return State{Stage: StageInformationCollection}
}
