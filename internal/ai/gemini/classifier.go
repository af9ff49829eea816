package gemini

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/jpavez/tender-scout/internal/ai"
	"github.com/jpavez/tender-scout/internal/tender"
	"github.com/jpavez/tender-scout/internal/utils"
	"go.uber.org/zap"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	GenerateContentWithCache(ctx context.Context, prompt, cacheName string) (string, error)
}

// Classifier asks Gemini whether a tender matches a client's line of work.
// The model is instructed to answer with a bare yes/no token; anything
// else is treated as "no".
type Classifier struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
	cacheName string
}

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

func NewClassifier(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Classifier {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Classifier{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// UseProfileCache makes subsequent calls reuse a cached profile resource
// created with Generator.EnsureProfileCache. The prompt then no longer
// carries the profile text.
func (c *Classifier) UseProfileCache(name string) {
	c.cacheName = strings.TrimSpace(name)
}

func (c *Classifier) Classify(ctx context.Context, t *tender.Tender, profile string) (*ai.Decision, error) {
	if t == nil {
		return nil, fmt.Errorf("tender is required")
	}

	prompt := c.buildPrompt(t, profile)

	c.logger.Debug("gemini classify request",
		zap.String("tender_id", t.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, c.maxLogLen)),
	)

	var raw string
	var err error
	if c.cacheName != "" {
		raw, err = c.generator.GenerateContentWithCache(ctx, prompt, c.cacheName)
	} else {
		raw, err = c.generator.GenerateContent(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("gemini classify response",
		zap.String("tender_id", t.ID),
		zap.String("response_preview", utils.TruncateForLog(raw, c.maxLogLen)),
	)

	return &ai.Decision{Relevant: parseVerdict(raw), Raw: raw}, nil
}

func (c *Classifier) buildPrompt(t *tender.Tender, profile string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "El cliente se dedica a: {{CLIENT_PROFILE}}\n\n" +
			"{{TENDER_NAME}}\n{{TENDER_DESCRIPTION}}\n\nResponde solo con 'SI' o 'NO'."
	}

	if c.cacheName != "" {
		profile = "(descrito en el contexto previo)"
	}

	prompt := strings.ReplaceAll(template, "{{CLIENT_PROFILE}}", strings.TrimSpace(profile))
	prompt = strings.ReplaceAll(prompt, "{{TENDER_NAME}}", strings.TrimSpace(t.Name))
	prompt = strings.ReplaceAll(prompt, "{{TENDER_DESCRIPTION}}", strings.TrimSpace(t.Description))
	return prompt
}

// parseVerdict accepts only an affirmative token; malformed or hedged
// responses count as "no".
func parseVerdict(raw string) bool {
	verdict := strings.ToUpper(strings.TrimSpace(raw))
	verdict = strings.Trim(verdict, "`'\".¡! ")
	switch verdict {
	case "SI", "SÍ", "YES":
		return true
	default:
		return false
	}
}
