package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/google/uuid"
)

const source = "intake-service"

// Engine drives the staged intake conversation. One Engine serves all
// sessions; per-session serialization is delegated to the TurnLocker.
type Engine struct {
	store         SessionStore
	oracle        GenerationOracle
	contacts      ContactCreator
	allowlist     AllowlistProvider
	locker        TurnLocker
	events        EventPublisher
	oracleTimeout time.Duration
}

type EngineConfig struct {
	Store         SessionStore
	Oracle        GenerationOracle
	Contacts      ContactCreator    // optional: referrals disabled when nil
	Allowlist     AllowlistProvider // optional: every proposal rejected when nil
	Locker        TurnLocker        // optional: defaults to in-process KeyedMutex
	Events        EventPublisher    // optional: best-effort
	OracleTimeout time.Duration
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Locker == nil {
		cfg.Locker = NewKeyedMutex()
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 45 * time.Second
	}
	return &Engine{
		store:         cfg.Store,
		oracle:        cfg.Oracle,
		contacts:      cfg.Contacts,
		allowlist:     cfg.Allowlist,
		locker:        cfg.Locker,
		events:        cfg.Events,
		oracleTimeout: cfg.OracleTimeout,
	}
}

type SessionResponse struct {
	RecordID         uuid.UUID `json:"record_id"`
	FirstMessage     string    `json:"first_message,omitempty"`
	SuggestedReplies []string  `json:"suggested_replies,omitempty"`
	Stage            Stage     `json:"stage"`
}

type TurnResponse struct {
	Message          string   `json:"message"`
	SuggestedReplies []string `json:"suggested_replies,omitempty"`
	Stage            Stage    `json:"stage"`
	Ended            bool     `json:"ended"`
}

// CreateSession opens a new intake session from an initial record payload.
// The record may be partially filled; the opening oracle call decides whether
// to start asking for missing fields or to skip straight to questioning.
func (e *Engine) CreateSession(ctx context.Context, userID uuid.UUID, record models.MedicalRecordData) (*SessionResponse, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if record.ObstetricSectionRequired() {
		return nil, fmt.Errorf("%w: obstetric_gynecological_history is required for female patients", ErrInvalidInput)
	}

	state := NewState()
	out, err := e.runCollection(ctx, record, state, nil, "")
	if err != nil {
		return nil, err
	}
	state = out.state
	if out.record != nil {
		record = *out.record
	}

	next, err := Next(StageInformationCollection, out.decision)
	if err != nil {
		return nil, err
	}
	state.Stage = next

	recordID, err := e.store.CreateSession(ctx, userID, record, state, out.content)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"record_id": recordID,
		"stage":     state.Stage,
	}).Info("Session created")
	e.publish(ctx, models.EventSessionCreated, map[string]interface{}{
		"user_id":   userID.String(),
		"record_id": recordID.String(),
		"stage":     string(state.Stage),
	})

	return &SessionResponse{
		RecordID:         recordID,
		FirstMessage:     out.content,
		SuggestedReplies: out.replies,
		Stage:            state.Stage,
	}, nil
}

// HandleTurn runs one full turn: load, dispatch to the stage handler, run the
// synthetic diagnosis stage if the decision lands there, commit everything
// atomically, then fire side effects.
func (e *Engine) HandleTurn(ctx context.Context, userID, recordID uuid.UUID, message string) (*TurnResponse, error) {
	message = strings.TrimSpace(message)
	if userID == uuid.Nil || recordID == uuid.Nil {
		return nil, fmt.Errorf("%w: user and record ids are required", ErrInvalidInput)
	}
	if message == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	}

	release, err := e.locker.Acquire(ctx, turnKey(userID, recordID))
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := e.store.State(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	record, err := e.store.Record(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.History(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}

	current := state.Stage
	turn := TurnWrite{UserID: userID, RecordID: recordID}
	turn.Messages = append(turn.Messages, models.ChatMessage{
		Role:      models.RolePatient,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	})

	var out outcome
	switch current {
	case StageInformationCollection:
		out, err = e.runCollection(ctx, record, state, history, message)
	case StageMainQuestioning:
		out, err = e.runQuestioning(ctx, record, state, history, message)
	case StageFinalSteps:
		out, err = e.runFollowUp(ctx, userID, recordID, record, state, history, message)
	case StageDiagnosis:
		// Only reachable when a previous turn committed the transition but
		// crashed before the synthetic stage. Rerun it, consuming no input.
		out = outcome{decision: DecisionDiagnosis, state: state}
		current = StageMainQuestioning
	default:
		return nil, fmt.Errorf("corrupt dialogue state: unknown stage %q", current)
	}
	if err != nil {
		return nil, err
	}

	state = out.state
	if out.record != nil {
		record = *out.record
		turn.Record = out.record
	}

	next, err := Next(current, out.decision)
	if err != nil {
		return nil, err
	}

	responseText := out.content
	replies := out.replies
	diagnosed := false
	if out.content != "" {
		turn.Messages = append(turn.Messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   out.content,
			CreatedAt: time.Now().UTC(),
		})
	}

	if next == StageDiagnosis {
		var previous *models.DiagnosisPaper
		if current == StageFinalSteps {
			if previous, err = e.store.LatestDiagnosis(ctx, userID, recordID); err != nil {
				return nil, err
			}
		}
		diag, err := e.runDiagnosis(ctx, record, state, append(history, turn.Messages...), previous)
		if err != nil {
			return nil, err
		}
		if diag.Record != nil {
			record = *diag.Record
			turn.Record = diag.Record
		}
		turn.Diagnosis = &diag.Paper
		turn.Todos = diag.Todos
		if diag.Content != "" {
			turn.Messages = append(turn.Messages, models.ChatMessage{
				Role:      models.RoleAssistant,
				Content:   diag.Content,
				CreatedAt: time.Now().UTC(),
			})
			responseText = diag.Content
			replies = nil
		}
		state.Stage = StageFinalSteps
		diagnosed = true
	} else {
		state.Stage = next
	}
	turn.State = state

	if err := e.store.CommitTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}

	e.publish(ctx, models.EventTurnCompleted, map[string]interface{}{
		"user_id":   userID.String(),
		"record_id": recordID.String(),
		"stage":     string(state.Stage),
	})
	if diagnosed {
		e.publish(ctx, models.EventDiagnosisCreated, map[string]interface{}{
			"user_id":   userID.String(),
			"record_id": recordID.String(),
		})
	}

	// Referral only after the turn is durably committed. Failure here is
	// logged, never surfaced: the conversation already moved on.
	if out.referral != nil {
		e.sendReferral(ctx, userID, recordID, *out.referral)
	}

	return &TurnResponse{
		Message:          responseText,
		SuggestedReplies: replies,
		Stage:            state.Stage,
		Ended:            out.decision == DecisionEnd,
	}, nil
}

func (e *Engine) sendReferral(ctx context.Context, userID, recordID uuid.UUID, proposal ReferralProposal) {
	if e.contacts == nil {
		logger.Log.Warn("Referral requested but no contact creator is configured")
		return
	}
	contactID, err := e.contacts.Create(ctx, userID, recordID, proposal)
	if err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"user_id":   userID,
			"record_id": recordID,
			"facility":  proposal.Facility,
		}).Warn("Referral creation failed")
		return
	}
	logger.WithFields(map[string]interface{}{
		"contact_id": contactID,
		"record_id":  recordID,
		"facility":   proposal.Facility,
	}).Info("Referral contact created")
}

func (e *Engine) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishEvent(ctx, eventType, source, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish event")
	}
}

func (e *Engine) oracleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.oracleTimeout)
}

func turnKey(userID, recordID uuid.UUID) string {
	return userID.String() + "|" + recordID.String()
}
