// Package oracle implements the dialogue.GenerationOracle interface against
// an OpenAI-compatible chat completions endpoint in JSON mode.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/anamnesis-ai/platform/pkg/dialogue"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// Chat completions wire types.

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete runs one JSON-mode completion: system prompt, a system context
// block, the prior conversation, then the patient's new message.
func (c *Client) complete(ctx context.Context, systemPrompt string, contextBlock interface{}, history []models.ChatMessage, message string) ([]byte, error) {
	contextJSON, err := json.Marshal(contextBlock)
	if err != nil {
		return nil, fmt.Errorf("marshal oracle context: %w", err)
	}

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "system", Content: "Context:\n" + string(contextJSON)},
	}
	for _, m := range history {
		role := "assistant"
		if m.Role == models.RolePatient {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}
	if message != "" {
		messages = append(messages, chatMessage{Role: "user", Content: message})
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read oracle response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: non-JSON completion response (status %d)", dialogue.ErrOracleContract, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("oracle returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("oracle returned %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion with no choices", dialogue.ErrOracleContract)
	}
	return []byte(parsed.Choices[0].Message.Content), nil
}

func decodeInto(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed stage output: %v", dialogue.ErrOracleContract, err)
	}
	return nil
}

// Information collection.

type collectionContext struct {
	MedicalRecord models.MedicalRecordData `json:"medical_record"`
	MissingFields []string                 `json:"missing_fields"`
}

type collectionWire struct {
	Generation       string                    `json:"generation"`
	Decision         string                    `json:"decision"`
	SuggestedReplies []string                  `json:"suggested_replies"`
	Note             string                    `json:"note"`
	MedicalRecord    *models.MedicalRecordData `json:"medical_record"`
	MissingFields    []string                  `json:"missing_fields"`
}

func (c *Client) CollectInformation(ctx context.Context, req dialogue.CollectionRequest) (*dialogue.CollectionResult, error) {
	raw, err := c.complete(ctx, collectionPrompt, collectionContext{
		MedicalRecord: req.Record,
		MissingFields: req.MissingFields,
	}, req.History, req.Message)
	if err != nil {
		return nil, err
	}

	var wire collectionWire
	if err := decodeInto(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Decision == "" {
		return nil, fmt.Errorf("%w: collection output missing decision", dialogue.ErrOracleContract)
	}
	return &dialogue.CollectionResult{
		Content:          wire.Generation,
		Decision:         wire.Decision,
		SuggestedReplies: wire.SuggestedReplies,
		Record:           wire.MedicalRecord,
		MissingFields:    wire.MissingFields,
		Note:             wire.Note,
	}, nil
}

// Main questioning.

type questioningContext struct {
	MedicalRecord        models.MedicalRecordData `json:"medical_record"`
	Reasoning            *models.Reasoning        `json:"reasoning"`
	Note                 string                   `json:"note"`
	DiseasesAlreadyAsked []string                 `json:"diseases_already_asked"`
	DiseaseToAsk         string                   `json:"disease_to_ask"`
	NeedObstetricHistory bool                     `json:"need_obstetric_history"`
}

type questioningWire struct {
	Generation       string                    `json:"generation"`
	Decision         string                    `json:"decision"`
	SuggestedReplies []string                  `json:"suggested_replies"`
	Reasoning        *models.Reasoning         `json:"reasoning"`
	Note             string                    `json:"note"`
	NextDisease      string                    `json:"disease_to_ask_on_the_next_question"`
	MedicalRecord    *models.MedicalRecordData `json:"medical_record"`
}

func (c *Client) AskQuestion(ctx context.Context, req dialogue.QuestioningRequest) (*dialogue.QuestioningResult, error) {
	raw, err := c.complete(ctx, questioningPrompt, questioningContext{
		MedicalRecord:        req.Record,
		Reasoning:            req.Reasoning,
		Note:                 req.Note,
		DiseasesAlreadyAsked: req.DiseasesAlreadyAsked,
		DiseaseToAsk:         req.DiseaseToAsk,
		NeedObstetricHistory: req.NeedObstetricHistory,
	}, req.History, req.Message)
	if err != nil {
		return nil, err
	}

	var wire questioningWire
	if err := decodeInto(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Decision == "" || wire.Generation == "" {
		return nil, fmt.Errorf("%w: questioning output missing decision or generation", dialogue.ErrOracleContract)
	}
	return &dialogue.QuestioningResult{
		Content:          wire.Generation,
		Decision:         wire.Decision,
		SuggestedReplies: wire.SuggestedReplies,
		Reasoning:        wire.Reasoning,
		Note:             wire.Note,
		NextDisease:      wire.NextDisease,
		Record:           wire.MedicalRecord,
	}, nil
}

// Diagnosis.

type diagnosisContext struct {
	MedicalRecord     models.MedicalRecordData `json:"medical_record"`
	Note              string                   `json:"note"`
	Reasoning         *models.Reasoning        `json:"reasoning"`
	PreviousDiagnosis *models.DiagnosisPaper   `json:"previous_diagnosis,omitempty"`
}

type diagnosisWire struct {
	Generation       string                    `json:"generation"`
	ReasoningProcess string                    `json:"reasoning_process"`
	Diagnosis        models.Diagnosis          `json:"diagnosis"`
	FurtherTests     []models.FurtherTest      `json:"further_tests"`
	Todos            []string                  `json:"todos"`
	MedicalRecord    *models.MedicalRecordData `json:"medical_record"`
}

func (c *Client) Diagnose(ctx context.Context, req dialogue.DiagnosisRequest) (*dialogue.DiagnosisResult, error) {
	raw, err := c.complete(ctx, diagnosisPrompt, diagnosisContext{
		MedicalRecord:     req.Record,
		Note:              req.Note,
		Reasoning:         req.Reasoning,
		PreviousDiagnosis: req.Previous,
	}, req.History, "")
	if err != nil {
		return nil, err
	}

	var wire diagnosisWire
	if err := decodeInto(raw, &wire); err != nil {
		return nil, err
	}
	if wire.ReasoningProcess == "" {
		return nil, fmt.Errorf("%w: diagnosis output missing reasoning_process", dialogue.ErrOracleContract)
	}

	todos := make([]models.TodoItem, 0, len(wire.Todos))
	for _, text := range wire.Todos {
		if text != "" {
			todos = append(todos, models.TodoItem{Text: text})
		}
	}
	return &dialogue.DiagnosisResult{
		Content: wire.Generation,
		Paper: models.DiagnosisPaper{
			ReasoningProcess: wire.ReasoningProcess,
			Diagnosis:        wire.Diagnosis,
			FurtherTests:     wire.FurtherTests,
		},
		Record: wire.MedicalRecord,
		Todos:  todos,
	}, nil
}

// Final steps.

type followUpContext struct {
	MedicalRecord   models.MedicalRecordData `json:"medical_record"`
	DiagnosisPaper  models.DiagnosisPaper    `json:"diagnosis_paper"`
	Todos           []models.TodoItem        `json:"todos"`
	ReferralOptions map[string][]string      `json:"referral_options"`
}

type followUpWire struct {
	Generation       string                     `json:"generation"`
	Decision         string                     `json:"decision"`
	SuggestedReplies []string                   `json:"suggested_replies"`
	ReferralAction   string                     `json:"referral_action"`
	Referral         *dialogue.ReferralProposal `json:"referral"`
}

func (c *Client) FollowUp(ctx context.Context, req dialogue.FollowUpRequest) (*dialogue.FollowUpResult, error) {
	raw, err := c.complete(ctx, followUpPrompt, followUpContext{
		MedicalRecord:   req.Record,
		DiagnosisPaper:  req.Paper,
		Todos:           req.Todos,
		ReferralOptions: req.Options,
	}, req.History, req.Message)
	if err != nil {
		return nil, err
	}

	var wire followUpWire
	if err := decodeInto(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Decision == "" || wire.Generation == "" {
		return nil, fmt.Errorf("%w: follow-up output missing decision or generation", dialogue.ErrOracleContract)
	}

	action := dialogue.ReferralAction(wire.ReferralAction)
	if action == "" {
		action = dialogue.ReferralNone
	}
	if action != dialogue.ReferralNone && action != dialogue.ReferralSendContact {
		return nil, fmt.Errorf("%w: unknown referral action %q", dialogue.ErrOracleContract, wire.ReferralAction)
	}
	return &dialogue.FollowUpResult{
		Content:          wire.Generation,
		Decision:         wire.Decision,
		SuggestedReplies: wire.SuggestedReplies,
		Referral:         action,
		Proposal:         wire.Referral,
	}, nil
}
