// Package extract derives professional metadata (company, role, topics)
// from a contact's bio and first messages.
//
// FLOW:
//
//	bio + messages → prompt → llm.Completer → JSON parse → model.Extraction
//	                                              ↓ (not JSON)
//	                                        keyword fallback
//
// The extractor never returns an error. A failed call yields the all-Unknown
// result with Source set to SourceDefault and the error attached, so the
// pipeline can log it without branching on it.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/contact-tracker/internal/llm"
	"github.com/sakif/contact-tracker/internal/model"
)

// Sampling settings. Low temperature keeps extraction repeatable.
const (
	Temperature      = 0.3
	MaxTokens        = 300
	CompanyMaxTokens = 50
)

const systemPrompt = "You are a professional information extraction assistant. " +
	"Extract company names, job titles, and discussion topics from " +
	"Telegram profiles and messages. Always return valid JSON."

const companySystemPrompt = "Extract the company name from the conversation. " +
	"Return only the company name, nothing else. " +
	"If no company is mentioned, return 'Unknown'."

// Extractor calls a Completer and normalises what comes back.
type Extractor struct {
	llm    llm.Completer
	logger *slog.Logger
}

func New(completer llm.Completer, logger *slog.Logger) *Extractor {
	return &Extractor{
		llm:    completer,
		logger: logger.With(slog.String("component", "extract")),
	}
}

// Extract returns company, role and topics for a new contact.
//
// When both bio and messages are empty nothing is sent and the result is
// all-Unknown with SourceNone.
func (e *Extractor) Extract(ctx context.Context, bio string, messages []string) model.Extraction {
	bio = strings.TrimSpace(bio)
	messages = nonBlank(messages)

	if bio == "" && len(messages) == 0 {
		e.logger.Debug("no bio or messages, skipping extraction")
		return model.UnknownExtraction(model.SourceNone, nil)
	}

	text, err := e.llm.Complete(ctx, BuildPrompt(bio, messages), llm.Options{
		System:      systemPrompt,
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
		JSON:        true,
	})
	if err != nil {
		e.logger.Error("extraction call failed", slog.String("error", err.Error()))
		return model.UnknownExtraction(model.SourceDefault, err)
	}

	result := Parse(text)
	e.logger.Info("extracted contact info",
		slog.String("company", result.Company),
		slog.String("source", string(result.Source)),
	)
	return result
}

// ExtractCompany is the lighter single-field call used to fill in a company
// after more of the conversation is available. ok is false when nothing
// usable came back, which means "no update" rather than "known absent".
func (e *Extractor) ExtractCompany(ctx context.Context, messages []model.Message) (string, bool) {
	var lines []string
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		who := "Them"
		if m.Direction == model.DirectionOutgoing {
			who = "Me"
		}
		lines = append(lines, who+": "+text)
	}
	if len(lines) == 0 {
		return "", false
	}

	text, err := e.llm.Complete(ctx, "Conversation:\n"+strings.Join(lines, "\n"), llm.Options{
		System:      companySystemPrompt,
		MaxTokens:   CompanyMaxTokens,
		Temperature: Temperature,
	})
	if err != nil {
		e.logger.Error("company extraction failed", slog.String("error", err.Error()))
		return "", false
	}

	company := strings.Trim(strings.TrimSpace(text), `"'`)
	if company == "" || strings.EqualFold(company, model.Unknown) {
		return "", false
	}
	return company, true
}

// BuildPrompt renders the user prompt: an optional "Bio:" block and an
// optional bulleted "Initial messages:" block, then the output contract.
func BuildPrompt(bio string, messages []string) string {
	var parts []string
	if bio != "" {
		parts = append(parts, "Bio: "+bio)
	}
	if len(messages) > 0 {
		bullets := make([]string, len(messages))
		for i, m := range messages {
			bullets[i] = "- " + m
		}
		parts = append(parts, "Initial messages:\n"+strings.Join(bullets, "\n"))
	}

	return fmt.Sprintf(`You are analyzing a Telegram profile and initial conversation to extract professional information.

%s

Extract and return ONLY valid JSON with this structure:
{
  "company": "company name or Unknown",
  "role": "job title or Unknown",
  "topics": ["topic1", "topic2", "topic3"]
}

Guidelines:
- Be concise and specific
- If information isn't clearly stated, use "Unknown"
- For topics, extract 1-3 key subjects discussed or mentioned
- Company names should be official names, not abbreviations (unless that's all that's provided)
- Job titles should be formal (e.g., "Software Engineer" not just "engineer")
- Return ONLY the JSON object, no additional text

JSON output:`, strings.Join(parts, "\n\n"))
}

// Parse turns completion text into an Extraction: JSON first, then the
// keyword fallback.
func Parse(text string) model.Extraction {
	var raw map[string]any
	if err := json.Unmarshal([]byte(stripFence(text)), &raw); err != nil {
		return Fallback(text)
	}

	return model.Extraction{
		Company: stringOrUnknown(raw["company"]),
		Role:    stringOrUnknown(raw["role"]),
		Topics:  topicList(raw["topics"]),
		Source:  model.SourceModel,
	}
}

// stripFence removes a surrounding ```json ... ``` block, which some models
// add even when asked for bare JSON.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func stringOrUnknown(v any) string {
	s, ok := v.(string)
	if !ok {
		return model.Unknown
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Unknown
	}
	return s
}

func topicList(v any) []string {
	topics := []string{}
	items, ok := v.([]any)
	if !ok {
		return topics
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			topics = append(topics, s)
		}
		if len(topics) == model.MaxTopics {
			break
		}
	}
	return topics
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
