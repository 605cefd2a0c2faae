package models

import (
	"time"

	"github.com/google/uuid"
)

// Medical record document. The record is stored as a single JSON column and
// only ever overwritten in place, never deleted.

type PatientInfo struct {
	FullName    string `json:"full_name"`
	Birthday    string `json:"birthday"` // ISO 8601 date
	Gender      string `json:"gender"`   // Male | Female | Other
	Occupation  string `json:"occupation"`
	Nationality string `json:"nationality"`
	Address     string `json:"address"`
}

type MedicalHistory struct {
	ChiefComplaint       string `json:"chief_complaint"`
	MedicalHistory       string `json:"medical_history"`
	PastMedicalHistory   string `json:"past_medical_history"`
	CurrentMedications   string `json:"current_medications"`
	Allergies            string `json:"allergies"`
	FamilyMedicalHistory string `json:"family_medical_history"`
}

type AlcoholDetails struct {
	PerMonthTimes *int   `json:"per_month_times,omitempty"`
	PerWeekTimes  *int   `json:"per_week_times,omitempty"`
	PerTimeML     *int   `json:"per_time_ml,omitempty"`
	AvgPerDayML   *int   `json:"avg_per_day_ml,omitempty"`
	DrinkType     string `json:"drink_type,omitempty"`
}

type SmokingDetails struct {
	StartAge        *int `json:"start_age,omitempty"`
	EndAge          *int `json:"end_age,omitempty"`
	CigarettesPerDay *int `json:"cigarettes_per_day,omitempty"`
	YearsSmoked     *int `json:"years_smoked,omitempty"`
}

type SocialInformation struct {
	AlcoholConsumption        string          `json:"alcohol_consumption"` // never | occasionally | frequently | daily
	AlcoholDetails            *AlcoholDetails `json:"alcohol_details,omitempty"`
	SmokingHabit              string          `json:"smoking_habit"` // never | used_to_quit | current
	SmokingDetails            *SmokingDetails `json:"smoking_details,omitempty"`
	LivingSituation           string          `json:"living_situation"`
	DailyActivityIndependence string          `json:"daily_activity_independence"`
	RecentTravelHistory       string          `json:"recent_travel_history"`
}

type ObstetricGynecologicalHistory struct {
	MenstruationStatus   string `json:"menstruation_status"`
	MenstrualCycle       string `json:"menstrual_cycle"`
	RecentSexualActivity *bool  `json:"recent_sexual_activity,omitempty"`
}

type MedicalRecordData struct {
	PatientInfo                   PatientInfo                    `json:"patient_info"`
	MedicalHistory                MedicalHistory                 `json:"medical_history"`
	SocialInformation             SocialInformation              `json:"social_information"`
	ObstetricGynecologicalHistory *ObstetricGynecologicalHistory `json:"obstetric_gynecological_history,omitempty"`
}

// MissingFields lists the mandatory demographic and lifestyle fields that are
// still empty. Information collection keeps asking until this is empty.
func (d MedicalRecordData) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	check("full_name", d.PatientInfo.FullName)
	check("birthday", d.PatientInfo.Birthday)
	check("gender", d.PatientInfo.Gender)
	check("occupation", d.PatientInfo.Occupation)
	check("nationality", d.PatientInfo.Nationality)
	check("chief_complaint", d.MedicalHistory.ChiefComplaint)
	check("past_medical_history", d.MedicalHistory.PastMedicalHistory)
	check("current_medications", d.MedicalHistory.CurrentMedications)
	check("allergies", d.MedicalHistory.Allergies)
	check("family_medical_history", d.MedicalHistory.FamilyMedicalHistory)
	check("alcohol_consumption", d.SocialInformation.AlcoholConsumption)
	check("smoking_habit", d.SocialInformation.SmokingHabit)
	check("living_situation", d.SocialInformation.LivingSituation)
	check("daily_activity_independence", d.SocialInformation.DailyActivityIndependence)
	check("recent_travel_history", d.SocialInformation.RecentTravelHistory)
	if d.PatientInfo.Gender == "Female" && d.ObstetricGynecologicalHistory == nil {
		missing = append(missing, "obstetric_gynecological_history")
	}
	return missing
}

// ObstetricSectionRequired reports whether the record still needs the
// obstetric/gynecological section before a diagnosis may be finalized.
func (d MedicalRecordData) ObstetricSectionRequired() bool {
	return d.PatientInfo.Gender == "Female" && d.ObstetricGynecologicalHistory == nil
}

// Differential reasoning snapshot produced by the questioning oracle. The
// three buckets carry every disease candidate the coverage tracker must see
// questioned before diagnosis is allowed.

type PredictedDisease struct {
	Name                  string   `json:"name"`
	Symptoms              []string `json:"symptoms,omitempty"`
	SupportingEvidence    []string `json:"supporting_evidence,omitempty"`
	DifferentiatingFactor string   `json:"differentiating_factor,omitempty"`
}

type Reasoning struct {
	MostLikely        *PredictedDisease  `json:"most_likely,omitempty"`
	PossibleDiagnoses []PredictedDisease `json:"possible_diagnoses,omitempty"`
	RuleOut           []PredictedDisease `json:"rule_out,omitempty"`
}

// DiseaseNames returns the union of disease names across all three buckets.
func (r Reasoning) DiseaseNames() []string {
	var names []string
	seen := map[string]bool{}
	add := func(d PredictedDisease) {
		if d.Name != "" && !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	if r.MostLikely != nil {
		add(*r.MostLikely)
	}
	for _, d := range r.PossibleDiagnoses {
		add(d)
	}
	for _, d := range r.RuleOut {
		add(d)
	}
	return names
}

// Diagnosis artifacts.

type Diagnosis struct {
	MostLikely        *PredictedDisease  `json:"most_likely,omitempty"`
	PossibleDiagnoses []PredictedDisease `json:"possible_diagnoses,omitempty"` // up to six
	RuleOut           []PredictedDisease `json:"rule_out,omitempty"`
}

type FurtherTest struct {
	Name              string   `json:"name"`
	Purpose           string   `json:"purpose"`
	RelatedConditions []string `json:"related_conditions,omitempty"`
	Urgency           string   `json:"urgency,omitempty"` // immediate | urgent | routine
}

type DiagnosisPaper struct {
	ReasoningProcess string        `json:"reasoning_process"`
	Diagnosis        Diagnosis     `json:"diagnosis"`
	FurtherTests     []FurtherTest `json:"further_tests"`
}

type TodoItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Chat log.

const (
	RolePatient   = "patient"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event bus.

const (
	EventSessionCreated   = "session_created"
	EventTurnCompleted    = "turn_completed"
	EventDiagnosisCreated = "diagnosis_created"
	EventContactCreated   = "contact_created"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
