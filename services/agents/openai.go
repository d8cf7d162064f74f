// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/rules"
)

const extractSystemPrompt = `You are a regulatory analyst. Extract discrete, verifiable regulatory facts
from the provided document text. For every fact you MUST copy the supporting
sentence verbatim from the document into "exactQuote" - never paraphrase it.
Respond with a JSON object: {"facts": [{"value": "...", "suggestedSlug":
"kebab-case-concept", "valueType": "percentage|amount|threshold|date|text",
"confidence": 0.0-1.0, "quotes": [{"exactQuote": "...", "articleNumber":
"...", "lawReference": "..."}]}]}. Return {"facts": []} when the text
contains no regulatory facts.`

const composeSystemPrompt = `You are a regulatory analyst. Merge the provided extracted facts for one
concept into a single canonical rule. Respond with a JSON object:
{"conceptSlug": "...", "value": "...", "valueType": "...", "authorityLevel":
"LAW|REGULATION|GUIDANCE|PROCEDURE|PRACTICE", "effectiveFrom": "YYYY-MM-DD
or empty", "effectiveUntil": "YYYY-MM-DD or empty", "confidence": 0.0-1.0}.
Do not invent values absent from the facts.`

// maxExtractChars caps how much snapshot text goes into one request.
const maxExtractChars = 48_000

// OpenAIProvider backs Provider with the OpenAI chat completion API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *logging.Logger
}

// NewOpenAIProvider builds a provider from the environment. The key is
// read from OPENAI_API_KEY or, failing that, the container secret file.
func NewOpenAIProvider(logger *logging.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = logging.Default()
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		const secretPath = "/run/secrets/openai_api_key"
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and secret %s unreadable", secretPath)
		}
		apiKey = strings.TrimSpace(string(raw))
		logger.Info("openai api key loaded from secret file")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting", "model", model)
	}
	logger.Info("openai provider initialized", "model", model)
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model, logger: logger}, nil
}

// Name identifies the backend.
func (p *OpenAIProvider) Name() string { return "openai" }

var _ Provider = (*OpenAIProvider)(nil)

// extractWire is the model's extraction response shape.
type extractWire struct {
	Facts []struct {
		Value         string  `json:"value"`
		SuggestedSlug string  `json:"suggestedSlug"`
		ValueType     string  `json:"valueType"`
		Confidence    float64 `json:"confidence"`
		Quotes        []struct {
			ExactQuote    string `json:"exactQuote"`
			ArticleNumber string `json:"articleNumber"`
			LawReference  string `json:"lawReference"`
		} `json:"quotes"`
	} `json:"facts"`
}

// Extract pulls candidate facts out of one snapshot's text.
func (p *OpenAIProvider) Extract(ctx context.Context, req ExtractRequest) ([]rules.CandidateFact, error) {
	text := req.Text
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars]
		p.logger.Warn("evidence text truncated for extraction",
			"evidence_id", req.EvidenceID,
			"limit", maxExtractChars,
		)
	}

	user := "Source authority: " + req.SourceAuthority + "\n\nDocument text:\n" + text
	raw, err := p.complete(ctx, extractSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.EvidenceID, err)
	}

	var wire extractWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("extract %s: parse response: %w", req.EvidenceID, err)
	}

	facts := make([]rules.CandidateFact, 0, len(wire.Facts))
	for _, wf := range wire.Facts {
		fact := rules.CandidateFact{
			Value:         wf.Value,
			SuggestedSlug: wf.SuggestedSlug,
			ValueType:     wf.ValueType,
			Confidence:    wf.Confidence,
		}
		for _, q := range wf.Quotes {
			fact.Quotes = append(fact.Quotes, rules.Grounding{
				EvidenceID:    req.EvidenceID,
				ExactQuote:    q.ExactQuote,
				ArticleNumber: q.ArticleNumber,
				LawReference:  q.LawReference,
			})
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// Compose folds facts for one concept into a draft rule.
func (p *OpenAIProvider) Compose(ctx context.Context, req ComposeRequest) (Draft, error) {
	payload, err := json.Marshal(req.Facts)
	if err != nil {
		return Draft{}, fmt.Errorf("compose %s: marshal facts: %w", req.ConceptSlug, err)
	}

	user := "Concept: " + req.ConceptSlug + "\n\nExtracted facts:\n" + string(payload)
	raw, err := p.complete(ctx, composeSystemPrompt, user)
	if err != nil {
		return Draft{}, fmt.Errorf("compose %s: %w", req.ConceptSlug, err)
	}

	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return Draft{}, fmt.Errorf("compose %s: parse response: %w", req.ConceptSlug, err)
	}
	return draft, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai api call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	p.logger.Debug("openai completion received",
		"model", p.model,
		"finish_reason", string(resp.Choices[0].FinishReason),
	)
	return resp.Choices[0].Message.Content, nil
}
