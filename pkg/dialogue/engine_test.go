package dialogue

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// In-memory store fake. CommitTurn applies writes only on success, matching
// the transactional store: a failed commit leaves everything untouched.

type fakeStore struct {
	userID   uuid.UUID
	recordID uuid.UUID
	record   models.MedicalRecordData
	state    State
	history  []models.ChatMessage
	papers   []models.DiagnosisPaper
	todos    []models.TodoItem

	commits    []TurnWrite
	failCommit bool
}

func (f *fakeStore) CreateSession(ctx context.Context, userID uuid.UUID, record models.MedicalRecordData, state State, firstMessage string) (uuid.UUID, error) {
	f.userID = userID
	f.record = record
	f.state = state
	if firstMessage != "" {
		f.history = append(f.history, models.ChatMessage{Role: models.RoleAssistant, Content: firstMessage})
	}
	if f.recordID == uuid.Nil {
		f.recordID = uuid.New()
	}
	return f.recordID, nil
}

func (f *fakeStore) Record(ctx context.Context, userID, recordID uuid.UUID) (models.MedicalRecordData, error) {
	return f.record, nil
}

func (f *fakeStore) State(ctx context.Context, userID, recordID uuid.UUID) (State, error) {
	return f.state, nil
}

func (f *fakeStore) History(ctx context.Context, userID, recordID uuid.UUID) ([]models.ChatMessage, error) {
	return f.history, nil
}

func (f *fakeStore) LatestDiagnosis(ctx context.Context, userID, recordID uuid.UUID) (*models.DiagnosisPaper, error) {
	if len(f.papers) == 0 {
		return nil, nil
	}
	paper := f.papers[len(f.papers)-1]
	return &paper, nil
}

func (f *fakeStore) Todos(ctx context.Context, userID, recordID uuid.UUID) ([]models.TodoItem, error) {
	return f.todos, nil
}

func (f *fakeStore) CommitTurn(ctx context.Context, turn TurnWrite) error {
	if f.failCommit {
		return errors.New("database unavailable")
	}
	f.commits = append(f.commits, turn)
	f.history = append(f.history, turn.Messages...)
	if turn.Record != nil {
		f.record = *turn.Record
	}
	if turn.Diagnosis != nil {
		f.papers = append(f.papers, *turn.Diagnosis)
	}
	if turn.Todos != nil {
		f.todos = turn.Todos
	}
	f.state = turn.State
	return nil
}

type fakeOracle struct {
	collect  *CollectionResult
	question *QuestioningResult
	diagnose *DiagnosisResult
	follow   *FollowUpResult

	lastDiagnosis *DiagnosisRequest
}

func (f *fakeOracle) CollectInformation(ctx context.Context, req CollectionRequest) (*CollectionResult, error) {
	if f.collect == nil {
		return nil, errors.New("unexpected CollectInformation call")
	}
	return f.collect, nil
}

func (f *fakeOracle) AskQuestion(ctx context.Context, req QuestioningRequest) (*QuestioningResult, error) {
	if f.question == nil {
		return nil, errors.New("unexpected AskQuestion call")
	}
	return f.question, nil
}

func (f *fakeOracle) Diagnose(ctx context.Context, req DiagnosisRequest) (*DiagnosisResult, error) {
	f.lastDiagnosis = &req
	if f.diagnose == nil {
		return nil, errors.New("unexpected Diagnose call")
	}
	res := *f.diagnose
	return &res, nil
}

func (f *fakeOracle) FollowUp(ctx context.Context, req FollowUpRequest) (*FollowUpResult, error) {
	if f.follow == nil {
		return nil, errors.New("unexpected FollowUp call")
	}
	return f.follow, nil
}

type fakeContacts struct {
	created []ReferralProposal
	err     error
}

func (f *fakeContacts) Create(ctx context.Context, patientID, recordID uuid.UUID, proposal ReferralProposal) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.created = append(f.created, proposal)
	return uuid.New(), nil
}

type allowStub struct {
	options map[string][]string
}

func (a allowStub) Validate(address, facility string) bool {
	for _, f := range a.options[address] {
		if f == facility {
			return true
		}
	}
	return false
}

func (a allowStub) Options() map[string][]string { return a.options }

func testAllowlist() allowStub {
	return allowStub{options: map[string][]string{"Hà Nội": {"Bệnh Viện Bạch Mai"}}}
}

func completeRecord() models.MedicalRecordData {
	return models.MedicalRecordData{
		PatientInfo: models.PatientInfo{
			FullName:    "Nguyen Van A",
			Birthday:    "1985-04-12",
			Gender:      "Male",
			Occupation:  "Accountant",
			Nationality: "Vietnamese",
			Address:     "Hà Nội",
		},
		MedicalHistory: models.MedicalHistory{
			ChiefComplaint:       "Fever and cough for three days",
			PastMedicalHistory:   "None",
			CurrentMedications:   "None",
			Allergies:            "None",
			FamilyMedicalHistory: "None",
		},
		SocialInformation: models.SocialInformation{
			AlcoholConsumption:        "never",
			SmokingHabit:              "never",
			LivingSituation:           "with family",
			DailyActivityIndependence: "independent",
			RecentTravelHistory:       "none",
		},
	}
}

func femaleRecordWithoutObstetric() models.MedicalRecordData {
	record := completeRecord()
	record.PatientInfo.Gender = "Female"
	record.ObstetricGynecologicalHistory = nil
	return record
}

func newTestEngine(fs *fakeStore, fo *fakeOracle, fc *fakeContacts) *Engine {
	return NewEngine(EngineConfig{
		Store:     fs,
		Oracle:    fo,
		Contacts:  fc,
		Allowlist: testAllowlist(),
	})
}

func sessionFixture(stage Stage) (*fakeStore, uuid.UUID, uuid.UUID) {
	userID := uuid.New()
	recordID := uuid.New()
	fs := &fakeStore{
		userID:   userID,
		recordID: recordID,
		record:   completeRecord(),
		state:    State{Stage: stage},
	}
	return fs, userID, recordID
}

func TestCreateSessionRejectsFemaleWithoutObstetricHistory(t *testing.T) {
	fs := &fakeStore{}
	engine := newTestEngine(fs, &fakeOracle{}, nil)

	_, err := engine.CreateSession(context.Background(), uuid.New(), femaleRecordWithoutObstetric())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateSessionRejectsMissingUser(t *testing.T) {
	engine := newTestEngine(&fakeStore{}, &fakeOracle{}, nil)
	if _, err := engine.CreateSession(context.Background(), uuid.Nil, completeRecord()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateSessionStartsCollection(t *testing.T) {
	fs := &fakeStore{}
	fo := &fakeOracle{collect: &CollectionResult{
		Content:          "What is your full name?",
		Decision:         "INFORMATION_COLLECTION",
		SuggestedReplies: []string{"My name is..."},
	}}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.CreateSession(context.Background(), uuid.New(), models.MedicalRecordData{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if resp.Stage != StageInformationCollection {
		t.Errorf("stage = %s, want %s", resp.Stage, StageInformationCollection)
	}
	if resp.FirstMessage != "What is your full name?" {
		t.Errorf("unexpected first message %q", resp.FirstMessage)
	}
	if fs.state.Stage != StageInformationCollection {
		t.Errorf("persisted stage = %s", fs.state.Stage)
	}
}

func TestCreateSessionSkipsToQuestioningOnCompleteRecord(t *testing.T) {
	fs := &fakeStore{}
	fo := &fakeOracle{collect: &CollectionResult{
		Content:  "",
		Decision: "MAIN_QUESTIONING",
	}}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.CreateSession(context.Background(), uuid.New(), completeRecord())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if resp.Stage != StageMainQuestioning {
		t.Errorf("stage = %s, want %s", resp.Stage, StageMainQuestioning)
	}
	if resp.FirstMessage != "" {
		t.Errorf("expected no first message, got %q", resp.FirstMessage)
	}
	if len(fs.history) != 0 {
		t.Errorf("no assistant message should be stored, got %d", len(fs.history))
	}
}

func TestHandleTurnValidatesInput(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	engine := newTestEngine(fs, &fakeOracle{}, nil)
	ctx := context.Background()

	if _, err := engine.HandleTurn(ctx, userID, recordID, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank message: expected ErrInvalidInput, got %v", err)
	}
	if _, err := engine.HandleTurn(ctx, uuid.Nil, recordID, "hello"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil user: expected ErrInvalidInput, got %v", err)
	}
	if _, err := engine.HandleTurn(ctx, userID, uuid.Nil, "hello"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil record: expected ErrInvalidInput, got %v", err)
	}
}

func TestHandleTurnCoverageGuardOverridesDiagnosis(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	fs.state.Reasoning = reasoningWith("Influenza", "Dengue")
	fs.state.DiseaseToAsk = "Influenza"

	fo := &fakeOracle{question: &QuestioningResult{
		Content:     "I think I have enough to go on.",
		Decision:    "DIAGNOSIS",
		NextDisease: "",
	}}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "no other symptoms")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if resp.Stage != StageMainQuestioning {
		t.Errorf("stage = %s, want %s (override)", resp.Stage, StageMainQuestioning)
	}
	if len(fs.papers) != 0 {
		t.Error("no diagnosis may be written while coverage is incomplete")
	}
	if fo.lastDiagnosis != nil {
		t.Error("diagnosis stage must not run while coverage is incomplete")
	}
}

func TestHandleTurnRunsSyntheticDiagnosisWhenCovered(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	fs.state.Reasoning = reasoningWith("Influenza")
	fs.state.DiseaseToAsk = "Influenza"

	fo := &fakeOracle{
		question: &QuestioningResult{
			Content:     "Thank you, I have what I need.",
			Decision:    "DIAGNOSIS",
			NextDisease: "",
		},
		diagnose: &DiagnosisResult{
			Content: "Based on your answers, influenza is most likely.",
			Paper: models.DiagnosisPaper{
				ReasoningProcess: "Fever, cough, seasonal exposure.",
				Diagnosis: models.Diagnosis{
					MostLikely: &models.PredictedDisease{Name: "Influenza"},
				},
			},
			Todos: []models.TodoItem{{Text: "Rest and hydrate"}, {Text: "Get a flu test"}},
		},
	}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "nothing else")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if resp.Stage != StageFinalSteps {
		t.Errorf("stage = %s, want %s", resp.Stage, StageFinalSteps)
	}
	if resp.Message != "Based on your answers, influenza is most likely." {
		t.Errorf("response should carry the diagnosis text, got %q", resp.Message)
	}
	if len(fs.commits) != 1 {
		t.Fatalf("expected one commit, got %d", len(fs.commits))
	}
	turn := fs.commits[0]
	if turn.Diagnosis == nil {
		t.Fatal("diagnosis paper missing from commit")
	}
	if len(turn.Todos) != 2 {
		t.Errorf("todos = %d, want 2", len(turn.Todos))
	}
	// patient message, transition text, diagnosis text
	if len(turn.Messages) != 3 {
		t.Errorf("messages = %d, want 3", len(turn.Messages))
	}
	if turn.State.Stage != StageFinalSteps {
		t.Errorf("persisted stage = %s, want %s", turn.State.Stage, StageFinalSteps)
	}
}

func TestHandleTurnDiagnosisTruncatesPossibleDiagnoses(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)

	var possible []models.PredictedDisease
	for _, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		possible = append(possible, models.PredictedDisease{Name: name})
	}
	fo := &fakeOracle{
		question: &QuestioningResult{Content: "Summarizing now.", Decision: "DIAGNOSIS"},
		diagnose: &DiagnosisResult{
			Content: "Summary.",
			Paper: models.DiagnosisPaper{
				ReasoningProcess: "Broad differential.",
				Diagnosis:        models.Diagnosis{PossibleDiagnoses: possible},
			},
		},
	}
	engine := newTestEngine(fs, fo, nil)

	if _, err := engine.HandleTurn(context.Background(), userID, recordID, "ok"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	got := len(fs.papers[0].Diagnosis.PossibleDiagnoses)
	if got != 6 {
		t.Errorf("possible diagnoses = %d, want 6", got)
	}
}

func TestHandleTurnObstetricGateDefersDiagnosis(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	fs.record = femaleRecordWithoutObstetric()

	fo := &fakeOracle{question: &QuestioningResult{
		Content:  "I would like to summarize.",
		Decision: "DIAGNOSIS",
	}}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "nothing more")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if resp.Stage != StageMainQuestioning {
		t.Errorf("stage = %s, want %s (obstetric gate)", resp.Stage, StageMainQuestioning)
	}
	if len(fs.papers) != 0 {
		t.Error("no diagnosis may be written without obstetric history")
	}
}

func TestHandleTurnRejectsUnknownDecision(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	fo := &fakeOracle{question: &QuestioningResult{
		Content:  "hmm",
		Decision: "FINAL_STEPS",
	}}
	engine := newTestEngine(fs, fo, nil)

	_, err := engine.HandleTurn(context.Background(), userID, recordID, "hello")
	if !errors.Is(err, ErrOracleContract) {
		t.Fatalf("expected ErrOracleContract, got %v", err)
	}
	if len(fs.commits) != 0 {
		t.Error("no writes may happen on a contract violation")
	}
	if fs.state.Stage != StageMainQuestioning {
		t.Errorf("stage must be unchanged, got %s", fs.state.Stage)
	}
}

func TestHandleTurnCommitFailureLeavesStateUntouched(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	fs.failCommit = true
	fo := &fakeOracle{question: &QuestioningResult{
		Content:  "Any headaches?",
		Decision: "MAIN_QUESTIONING",
	}}
	engine := newTestEngine(fs, fo, nil)

	if _, err := engine.HandleTurn(context.Background(), userID, recordID, "yes"); err == nil {
		t.Fatal("expected commit failure to surface")
	}
	if fs.state.Stage != StageMainQuestioning {
		t.Errorf("stage must be unchanged after failed commit, got %s", fs.state.Stage)
	}
	if len(fs.history) != 0 {
		t.Error("no messages may persist after failed commit")
	}
}

func TestHandleTurnReferralCreatesContactAfterCommit(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageFinalSteps)
	fs.papers = []models.DiagnosisPaper{{ReasoningProcess: "done"}}

	fc := &fakeContacts{}
	fo := &fakeOracle{follow: &FollowUpResult{
		Content:  "I will send your record to Bệnh Viện Bạch Mai.",
		Decision: "FINAL_STEPS",
		Referral: ReferralSendContact,
		Proposal: &ReferralProposal{
			IncludeConversation: true,
			Address:             "Hà Nội",
			Facility:            "Bệnh Viện Bạch Mai",
		},
	}}
	engine := newTestEngine(fs, fo, fc)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "please send my record")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if len(fc.created) != 1 {
		t.Fatalf("contacts created = %d, want 1", len(fc.created))
	}
	if fc.created[0].Facility != "Bệnh Viện Bạch Mai" {
		t.Errorf("unexpected facility %q", fc.created[0].Facility)
	}
	if len(fs.commits) != 1 {
		t.Errorf("turn must be committed, got %d commits", len(fs.commits))
	}
	if resp.Ended {
		t.Error("referral does not end the conversation")
	}
}

func TestHandleTurnReferralRejectedByAllowlist(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageFinalSteps)
	fs.papers = []models.DiagnosisPaper{{ReasoningProcess: "done"}}

	fc := &fakeContacts{}
	fo := &fakeOracle{follow: &FollowUpResult{
		Content:  "Sure, sending your record.",
		Decision: "FINAL_STEPS",
		Referral: ReferralSendContact,
		Proposal: &ReferralProposal{Address: "Hà Nội", Facility: "Phòng Khám Lạ"},
	}}
	engine := newTestEngine(fs, fo, fc)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "send it to that clinic")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if len(fc.created) != 0 {
		t.Error("invalid proposal must not create a contact")
	}
	if !strings.Contains(resp.Message, "listed facility") {
		t.Errorf("response should re-ask with valid options, got %q", resp.Message)
	}
	if len(fs.commits) != 1 {
		t.Error("the turn itself still commits")
	}
}

func TestHandleTurnReferralFailureDoesNotFailTurn(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageFinalSteps)
	fs.papers = []models.DiagnosisPaper{{ReasoningProcess: "done"}}

	fc := &fakeContacts{err: errors.New("contact exists")}
	fo := &fakeOracle{follow: &FollowUpResult{
		Content:  "Sending your record now.",
		Decision: "FINAL_STEPS",
		Referral: ReferralSendContact,
		Proposal: &ReferralProposal{Address: "Hà Nội", Facility: "Bệnh Viện Bạch Mai"},
	}}
	engine := newTestEngine(fs, fo, fc)

	if _, err := engine.HandleTurn(context.Background(), userID, recordID, "please send it"); err != nil {
		t.Fatalf("contact failure must not fail the turn: %v", err)
	}
	if len(fs.commits) != 1 {
		t.Error("the turn must still be committed")
	}
}

func TestHandleTurnEndSignal(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageFinalSteps)
	fs.papers = []models.DiagnosisPaper{{ReasoningProcess: "done"}}

	fo := &fakeOracle{follow: &FollowUpResult{
		Content:  "Take care, goodbye.",
		Decision: "END",
	}}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "thanks, bye")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !resp.Ended {
		t.Error("END decision must set Ended")
	}
	if fs.state.Stage != StageFinalSteps {
		t.Errorf("END is never persisted as a stage, got %s", fs.state.Stage)
	}
}

func TestHandleTurnRediagnosisRevisesPreviousPaper(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageFinalSteps)
	fs.papers = []models.DiagnosisPaper{{ReasoningProcess: "first pass"}}

	fo := &fakeOracle{
		follow: &FollowUpResult{
			Content:  "That changes the picture, let me re-examine.",
			Decision: "DIAGNOSIS",
		},
		diagnose: &DiagnosisResult{
			Content: "Updated assessment.",
			Paper:   models.DiagnosisPaper{ReasoningProcess: "revised with new symptom"},
		},
	}
	engine := newTestEngine(fs, fo, nil)

	resp, err := engine.HandleTurn(context.Background(), userID, recordID, "I also have a rash now")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if fo.lastDiagnosis == nil || fo.lastDiagnosis.Previous == nil {
		t.Fatal("re-diagnosis must carry the previous paper")
	}
	if fo.lastDiagnosis.Previous.ReasoningProcess != "first pass" {
		t.Errorf("unexpected previous paper %q", fo.lastDiagnosis.Previous.ReasoningProcess)
	}
	if len(fs.papers) != 2 {
		t.Errorf("papers = %d, want 2 (append, not overwrite)", len(fs.papers))
	}
	if resp.Stage != StageFinalSteps {
		t.Errorf("stage = %s, want %s", resp.Stage, StageFinalSteps)
	}
}

func TestHandleTurnBusySession(t *testing.T) {
	fs, userID, recordID := sessionFixture(StageMainQuestioning)
	locker := NewKeyedMutex()
	engine := NewEngine(EngineConfig{
		Store:  fs,
		Oracle: &fakeOracle{},
		Locker: locker,
	})

	release, err := locker.Acquire(context.Background(), turnKey(userID, recordID))
	if err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	defer release()

	if _, err := engine.HandleTurn(context.Background(), userID, recordID, "hello"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
}
