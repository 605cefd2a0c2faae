package dialogue

import (
	"reflect"
	"testing"

	"github.com/anamnesis-ai/platform/pkg/common/models"
)

func reasoningWith(names ...string) *models.Reasoning {
	r := &models.Reasoning{}
	for _, name := range names {
		r.PossibleDiagnoses = append(r.PossibleDiagnoses, models.PredictedDisease{Name: name})
	}
	return r
}

func TestAdvanceFocusMarksPreviousFocusAsked(t *testing.T) {
	s := NewState()
	s.Reasoning = reasoningWith("Influenza", "Dengue")

	s.AdvanceFocus("Influenza")
	if len(s.DiseasesAlreadyAsked) != 0 {
		t.Fatalf("first focus should not be marked asked, got %v", s.DiseasesAlreadyAsked)
	}

	// Same focus again: asking a second question about the same disease does
	// not cover it.
	s.AdvanceFocus("Influenza")
	if len(s.DiseasesAlreadyAsked) != 0 {
		t.Fatalf("repeated focus should not be marked asked, got %v", s.DiseasesAlreadyAsked)
	}

	s.AdvanceFocus("Dengue")
	if !reflect.DeepEqual(s.DiseasesAlreadyAsked, []string{"Influenza"}) {
		t.Errorf("moving on should cover the previous focus, got %v", s.DiseasesAlreadyAsked)
	}
	if s.DiseaseToAsk != "Dengue" {
		t.Errorf("focus = %q, want Dengue", s.DiseaseToAsk)
	}
}

func TestAdvanceFocusToEmptyCoversLastDisease(t *testing.T) {
	s := NewState()
	s.Reasoning = reasoningWith("Influenza")
	s.AdvanceFocus("Influenza")

	s.AdvanceFocus("")
	if !containsString(s.DiseasesAlreadyAsked, "Influenza") {
		t.Errorf("clearing focus should cover the last disease, got %v", s.DiseasesAlreadyAsked)
	}
	if got := s.Uncovered(); len(got) != 0 {
		t.Errorf("expected full coverage, still open: %v", got)
	}
}

func TestUncoveredSpansAllReasoningBuckets(t *testing.T) {
	s := NewState()
	s.Reasoning = &models.Reasoning{
		MostLikely:        &models.PredictedDisease{Name: "Influenza"},
		PossibleDiagnoses: []models.PredictedDisease{{Name: "Dengue"}},
		RuleOut:           []models.PredictedDisease{{Name: "Meningitis"}},
	}
	s.DiseasesAlreadyAsked = []string{"Dengue"}

	got := s.Uncovered()
	want := []string{"Influenza", "Meningitis"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Uncovered() = %v, want %v", got, want)
	}
}

func TestUncoveredWithoutReasoning(t *testing.T) {
	s := NewState()
	if got := s.Uncovered(); got != nil {
		t.Errorf("no reasoning should mean nothing uncovered, got %v", got)
	}
}

func TestAdvanceFocusDoesNotDuplicateAskedEntries(t *testing.T) {
	s := NewState()
	s.Reasoning = reasoningWith("Influenza", "Dengue")
	s.DiseasesAlreadyAsked = []string{"Influenza"}
	s.DiseaseToAsk = "Influenza"

	s.AdvanceFocus("Dengue")
	if !reflect.DeepEqual(s.DiseasesAlreadyAsked, []string{"Influenza"}) {
		t.Errorf("asked set must stay deduplicated, got %v", s.DiseasesAlreadyAsked)
	}
}
