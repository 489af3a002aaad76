package suggestion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/vectorsearch"
)

// Categories
const (
	CategoryClarity   = "clarity"
	CategoryConcision = "concision"
	CategoryStyle     = "style"
	CategoryGrammar   = "grammar"
	CategoryStructure = "structure"
)

// Sources
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
)

var (
	ErrUnparseable  = errors.New("completion did not contain a suggestion list")
	ErrNoRetrieval  = errors.New("vector search is not configured")
	ErrEmptyContent = errors.New("content is empty")
)

// Suggestion is one proposed improvement
type Suggestion struct {
	Category string `json:"category"`
	Text     string `json:"text"`
	Excerpt  string `json:"excerpt,omitempty"`
	Source   string `json:"source"`
}

// Params shape the prompt
type Params struct {
	Mode     string
	Tone     string
	Audience string
}

// Config bounds the engine
type Config struct {
	MaxSuggestions int
	RetrievalLimit int
	MaxEmbedBytes  int
}

// DefaultConfig returns engine defaults
func DefaultConfig() Config {
	return Config{
		MaxSuggestions: 10,
		RetrievalLimit: 3,
		MaxEmbedBytes:  8000,
	}
}

// Engine generates suggestions through the completion service
type Engine struct {
	completion completion.Client
	search     vectorsearch.Searcher
	cfg        Config
	logger     *zap.Logger
}

// NewEngine creates an engine. search may be nil.
func NewEngine(c completion.Client, search vectorsearch.Searcher, cfg Config, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = defaults.MaxSuggestions
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = defaults.RetrievalLimit
	}
	if cfg.MaxEmbedBytes <= 0 {
		cfg.MaxEmbedBytes = defaults.MaxEmbedBytes
	}

	return &Engine{
		completion: c,
		search:     search,
		cfg:        cfg,
		logger:     logger.Named("suggestion"),
	}
}

// HasRetrieval reports whether a vector index is wired
func (e *Engine) HasRetrieval() bool {
	return e.search != nil
}

// Retrieve embeds content and returns related style examples
func (e *Engine) Retrieve(ctx context.Context, content string) ([]vectorsearch.Example, error) {
	if e.search == nil {
		return nil, ErrNoRetrieval
	}

	text := content
	if len(text) > e.cfg.MaxEmbedBytes {
		text = truncateUTF8(text, e.cfg.MaxEmbedBytes)
	}

	vector, err := e.completion.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	return e.search.Related(ctx, vector, e.cfg.RetrievalLimit)
}

// Suggest asks the completion service at tier for suggestions
func (e *Engine) Suggest(ctx context.Context, tier completion.Tier, content string, params Params, examples []vectorsearch.Example) ([]Suggestion, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	system, prompt := BuildPrompt(content, params, examples)
	out, err := e.completion.Complete(ctx, completion.Request{
		Tier:   tier,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	suggestions, err := Parse(out, e.cfg.MaxSuggestions)
	if err != nil {
		e.logger.Debug("unparseable completion", zap.String("tier", string(tier)), zap.Int("length", len(out)))
		return nil, err
	}
	return suggestions, nil
}

var modeInstructions = map[string]string{
	"fast":     "List the most important quick fixes. Keep each suggestion to one sentence.",
	"enhance":  "Suggest improvements to clarity, flow and word choice. Explain each change briefly.",
	"document": "Review this section of a longer document. Focus on structure, clarity and consistency.",
	"optimize": "Suggest ways to make the text shorter and more direct without losing meaning.",
}

// BuildPrompt renders the system and user prompts
func BuildPrompt(content string, params Params, examples []vectorsearch.Example) (string, string) {
	var sys strings.Builder
	sys.WriteString("You are an editor who reviews writing and proposes concrete improvements.\n")
	if instr, ok := modeInstructions[params.Mode]; ok {
		sys.WriteString(instr)
		sys.WriteString("\n")
	}
	if params.Tone != "" {
		fmt.Fprintf(&sys, "The desired tone is %s.\n", params.Tone)
	}
	if params.Audience != "" {
		fmt.Fprintf(&sys, "The intended audience is %s.\n", params.Audience)
	}
	sys.WriteString("Answer with a numbered list. Start each item with a category in brackets, one of: ")
	sys.WriteString(strings.Join([]string{CategoryClarity, CategoryConcision, CategoryStyle, CategoryGrammar, CategoryStructure}, ", "))
	sys.WriteString(".")

	var user strings.Builder
	if len(examples) > 0 {
		user.WriteString("Examples of the house style:\n")
		for _, ex := range examples {
			fmt.Fprintf(&user, "- %s\n", ex.Text)
		}
		user.WriteString("\n")
	}
	user.WriteString("Text:\n")
	user.WriteString(content)

	return sys.String(), user.String()
}

var (
	listItem    = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+)$`)
	categoryTag = regexp.MustCompile(`^\[([A-Za-z]+)\]\s*(.*)$`)
)

// Parse reads a numbered or bulleted list from a completion
func Parse(text string, limit int) ([]Suggestion, error) {
	var out []Suggestion
	for _, line := range strings.Split(text, "\n") {
		m := listItem.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		body := strings.TrimSpace(m[1])
		category := CategoryStyle
		if tag := categoryTag.FindStringSubmatch(body); tag != nil {
			category = normalizeCategory(tag[1])
			body = strings.TrimSpace(tag[2])
		}
		if body == "" {
			continue
		}

		out = append(out, Suggestion{Category: category, Text: body, Source: SourceModel})
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	if len(out) == 0 {
		return nil, ErrUnparseable
	}
	return out, nil
}

func normalizeCategory(c string) string {
	switch c = strings.ToLower(c); c {
	case CategoryClarity, CategoryConcision, CategoryStyle, CategoryGrammar, CategoryStructure:
		return c
	}
	return CategoryStyle
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
