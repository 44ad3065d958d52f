package brandscan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docutag/brandscan/llm"
	"github.com/docutag/brandscan/models"
)

const (
	assistantTemperature = 0.7
	assistantMaxTokens   = 100
)

// Assistant answers short customer questions in the voice of a brand
type Assistant struct {
	extractor *Extractor // Shares the model client and its semaphore
}

// Assistant returns the voice assistant backed by the pipeline's model
func (p *Pipeline) Assistant() *Assistant {
	return &Assistant{extractor: p.extractor}
}

// BuildAssistantPrompt renders the system prompt for a brand
func BuildAssistantPrompt(record models.BrandRecord) string {
	name := firstNonEmpty(record.Name, "this business")
	tone := firstNonEmpty(record.Vibe, "professional and helpful")

	var facts strings.Builder
	fmt.Fprintf(&facts, "- Name: %s\n", name)
	if record.Industry != "" {
		fmt.Fprintf(&facts, "- Industry: %s\n", record.Industry)
	}
	if record.Bio != "" {
		fmt.Fprintf(&facts, "- About: %s\n", record.Bio)
	}
	if record.SourceURL != "" {
		fmt.Fprintf(&facts, "- Website: %s\n", record.SourceURL)
	}
	for _, l := range record.Links {
		fmt.Fprintf(&facts, "- %s (%s): %s\n", l.Label, l.Category, l.URL)
	}

	return fmt.Sprintf(`You are the voice assistant for %s.

PERSONALITY:
- Tone: %s
- Answer customer questions accurately and concisely
- Conversational, direct and helpful

BUSINESS FACTS:
%s
INSTRUCTIONS:
- Answer in 1-2 sentences
- If you do not have specific information, say so honestly
- Never make up information that is not in the business facts
- Point people to the booking or shop links when they want to book or buy`, name, tone, facts.String())
}

// Reply answers message about the brand described by record
func (a *Assistant) Reply(ctx context.Context, record models.BrandRecord, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	e := a.extractor
	if err := e.acquireSlot(ctx); err != nil {
		return "", &ModelError{Backend: e.client.Name(), Err: fmt.Errorf("waiting for model slot: %w", err)}
	}
	defer e.releaseSlot()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.client.Complete(callCtx, llm.Request{
		System:      BuildAssistantPrompt(record),
		Prompt:      message,
		Temperature: assistantTemperature,
		MaxTokens:   assistantMaxTokens,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", e.timeout, err)
		}
		return "", &ModelError{Backend: e.client.Name(), Err: err}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &ModelError{Backend: e.client.Name(), Err: errors.New("empty reply")}
	}
	e.logger.Debug("assistant replied", "brand", record.Name, "chars", len(reply))
	return reply, nil
}
