// Package coach asks a Gemini model to review a trading journal.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"tradejournal/pkg/journal"
)

const (
	DefaultModel = "gemini-2.5-flash"

	maxOutputTokens = 2048
	recentLimit     = 10
	unsetLabel      = "(none)"
)

const systemPrompt = `You are a trading coach reviewing a retail trader's journal.
Base every statement on the numbers and notes provided. Be direct and concrete.
Respond with a single JSON object and nothing else:
{"summary": string, "strengths": [string], "weaknesses": [string], "suggestions": [string]}`

// ErrNoAPIKey is returned by New when no API key is configured.
var ErrNoAPIKey = errors.New("coach: gemini api key is not configured")

// Options configures New.
type Options struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini endpoint, mainly for proxies.
	BaseURL string
	Logger  *slog.Logger
}

// Review is the model's assessment of the journal.
type Review struct {
	Model       string   `json:"model"`
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

type generator interface {
	generate(ctx context.Context, system, user string) (text, model string, err error)
}

// Coach produces journal reviews.
type Coach struct {
	gen    generator
	logger *slog.Logger
}

// New creates a Coach backed by the Gemini API.
func New(ctx context.Context, opts Options) (*Coach, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(base, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return newCoach(&geminiGenerator{client: client, model: model}, opts.Logger), nil
}

func newCoach(gen generator, logger *slog.Logger) *Coach {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coach{gen: gen, logger: logger}
}

// Review asks the model to assess summary and the most recent trades.
func (c *Coach) Review(ctx context.Context, summary journal.Summary, recent []journal.TradeRecord) (*Review, error) {
	if summary.Stats.Total == 0 {
		return nil, journal.NewError(journal.ErrCodeInvalidInput, "no trades to review")
	}
	prompt := BuildPrompt(summary, recent)
	c.logger.Debug("coach prompt", "chars", len(prompt), "trades", summary.Stats.Total)

	text, model, err := c.gen.generate(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	review, err := parseReview(text)
	if err != nil {
		c.logger.Warn("coach returned unparsable review", "err", err)
		return nil, err
	}
	review.Model = model
	return review, nil
}

// Breakdown aggregates the trades sharing one label.
type Breakdown struct {
	Label         string
	Trades        int
	Wins          int
	TotalCurrency journal.Amount
}

// BreakdownBy groups records by key, sorted by trade count then label.
// Empty keys are grouped under "(none)".
func BreakdownBy(records []journal.TradeRecord, key func(journal.TradeRecord) string) []Breakdown {
	groups := make(map[string][]journal.TradeRecord)
	for _, r := range records {
		label := strings.TrimSpace(key(r))
		if label == "" {
			label = unsetLabel
		}
		groups[label] = append(groups[label], r)
	}
	out := make([]Breakdown, 0, len(groups))
	for label, group := range groups {
		stats := journal.Compute(group)
		out = append(out, Breakdown{
			Label:         label,
			Trades:        stats.Total,
			Wins:          stats.Wins,
			TotalCurrency: stats.TotalCurrency,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trades != out[j].Trades {
			return out[i].Trades > out[j].Trades
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func moodOf(r journal.TradeRecord) string {
	if r.Mood == nil {
		return ""
	}
	return string(*r.Mood)
}

func setupOf(r journal.TradeRecord) string {
	if r.SetupTag == nil {
		return ""
	}
	return *r.SetupTag
}

// BuildPrompt renders the user prompt for a review.
func BuildPrompt(summary journal.Summary, recent []journal.TradeRecord) string {
	var b strings.Builder
	s := summary.Stats
	b.WriteString("## Aggregate statistics\n")
	fmt.Fprintf(&b, "- trades: %d (wins %d, losses %d)\n", s.Total, s.Wins, s.Losses)
	fmt.Fprintf(&b, "- win rate: %.1f%%\n", s.WinRate)
	fmt.Fprintf(&b, "- net P&L: %s\n", s.TotalCurrency.String())
	fmt.Fprintf(&b, "- net R: %s (avg %.2fR per trade)\n", s.TotalR.String(), s.AvgR)
	fmt.Fprintf(&b, "- profit factor: %.2f\n", s.ProfitFactor)

	if len(summary.Monthly) > 0 {
		b.WriteString("\n## Monthly P&L\n")
		for _, m := range summary.Monthly {
			fmt.Fprintf(&b, "- %s: %s over %d trades\n", m.Month, m.PnL.String(), m.Trades)
		}
	}

	writeBreakdown(&b, "By mood", BreakdownBy(recent, moodOf))
	writeBreakdown(&b, "By setup", BreakdownBy(recent, setupOf))

	notes := recentWithNotes(recent)
	if len(notes) > 0 {
		b.WriteString("\n## Recent trade notes\n")
		for _, r := range notes {
			fmt.Fprintf(&b, "- %s %s %s %sR: %s\n",
				r.OccurredOn, r.Instrument, r.Direction, r.ResultInRiskUnits.String(),
				strings.Join(strings.Fields(*r.FreeformNotes), " "))
		}
	}
	return b.String()
}

func writeBreakdown(b *strings.Builder, title string, rows []Breakdown) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, row := range rows {
		fmt.Fprintf(b, "- %s: %d trades, %d wins, P&L %s\n", row.Label, row.Trades, row.Wins, row.TotalCurrency.String())
	}
}

func recentWithNotes(records []journal.TradeRecord) []journal.TradeRecord {
	sorted := append([]journal.TradeRecord(nil), records...)
	journal.SortByDate(sorted)
	out := make([]journal.TradeRecord, 0, recentLimit)
	for i := len(sorted) - 1; i >= 0 && len(out) < recentLimit; i-- {
		r := sorted[i]
		if r.FreeformNotes != nil && strings.TrimSpace(*r.FreeformNotes) != "" {
			out = append(out, r)
		}
	}
	return out
}

func parseReview(content string) (*Review, error) {
	cleaned := cleanupModelJSON(content)
	var parsed Review
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	parsed.Summary = strings.TrimSpace(parsed.Summary)
	parsed.Strengths = normalizeItems(parsed.Strengths)
	parsed.Weaknesses = normalizeItems(parsed.Weaknesses)
	parsed.Suggestions = normalizeItems(parsed.Suggestions)
	if parsed.Summary == "" && len(parsed.Suggestions) == 0 {
		return nil, fmt.Errorf("model returned an empty review")
	}
	return &parsed, nil
}

func cleanupModelJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		lines := strings.Split(trimmed, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[:len(lines)-1]
			}
			trimmed = strings.Join(lines, "\n")
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		trimmed = trimmed[start : end+1]
	}
	return strings.TrimSpace(trimmed)
}

func normalizeItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) generate(ctx context.Context, system, user string) (string, string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		Temperature:      genai.Ptr(float32(0.3)),
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: "application/json",
	}
	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), config)
	if err != nil {
		return "", "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", "", fmt.Errorf("ai response content is empty")
	}
	model := strings.TrimSpace(response.ModelVersion)
	if model == "" {
		model = g.model
	}
	return text, model, nil
}
