package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// ClaudeAnalyzer produces analysis reports through the Anthropic API.
// The report content is opaque to the task layer; the analyzer writes it
// to disk and hands back a reference.
type ClaudeAnalyzer struct {
	config     *common.ClaudeConfig
	client     anthropic.Client
	timeout    time.Duration
	maxTokens  int
	reportsDir string
	logger     arbor.ILogger
}

// NewClaudeAnalyzer creates an analyzer backed by the Claude API
func NewClaudeAnalyzer(config *common.ClaudeConfig, reportsDir string, logger arbor.ILogger) (*ClaudeAnalyzer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	model := config.Model
	if model == "" {
		model = "claude-sonnet-4-5"
		config.Model = model
	}

	timeout := 120 * time.Second
	if d, err := time.ParseDuration(config.Timeout); err == nil && d > 0 {
		timeout = d
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	if reportsDir == "" {
		reportsDir = "./data/reports"
	}
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Msg("Claude analyzer initialized")

	return &ClaudeAnalyzer{
		config:     config,
		client:     client,
		timeout:    timeout,
		maxTokens:  maxTokens,
		reportsDir: reportsDir,
		logger:     logger,
	}, nil
}

var _ interfaces.Analyzer = (*ClaudeAnalyzer)(nil)

// Analyze generates a report for the task from the resolved market data
// and returns a reference to the stored artifact.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, task *models.Task, data *models.MarketData) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	startTime := time.Now()
	a.logger.Debug().
		Str("task_id", task.ID).
		Str("symbol", data.Symbol).
		Int("records", len(data.Records)).
		Msg("Starting analysis")

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: int64(a.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(task, data))),
		},
	}

	resp, err := a.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var report strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			report.WriteString(block.Text)
		}
	}
	if report.Len() == 0 {
		return "", fmt.Errorf("Claude returned an empty response")
	}

	resultRef, err := a.writeReport(task, report.String())
	if err != nil {
		return "", err
	}

	a.logger.Info().
		Str("task_id", task.ID).
		Str("result_ref", resultRef).
		Dur("duration", time.Since(startTime)).
		Msg("Analysis completed")

	return resultRef, nil
}

// writeReport persists the report artifact and returns its reference
func (a *ClaudeAnalyzer) writeReport(task *models.Task, content string) (string, error) {
	filename := fmt.Sprintf("%s.md", task.ID)
	path := filepath.Join(a.reportsDir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return filepath.ToSlash(filepath.Join("reports", filename)), nil
}

const systemPrompt = "You are a senior equity research analyst. Produce a concise, " +
	"well-structured markdown report covering recent price action, volume, and a " +
	"short outlook. State uncertainty plainly and never fabricate data."

// buildPrompt renders the task and market data into the analysis request
func buildPrompt(task *models.Task, data *models.MarketData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s (%s market). Data source: %s.\n\n", data.Symbol, data.Market, data.Source)
	fmt.Fprintf(&b, "Recent daily bars (%s to %s):\n\n", data.StartDate.Format("2006-01-02"), data.EndDate.Format("2006-01-02"))
	b.WriteString("| Date | Open | High | Low | Close | Volume |\n")
	b.WriteString("|------|------|------|-----|-------|--------|\n")
	for _, r := range data.Records {
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %.2f | %.2f | %.0f |\n",
			r.Date.Format("2006-01-02"), r.Open, r.High, r.Low, r.Close, r.Volume)
	}
	if len(task.Parameters) > 0 {
		fmt.Fprintf(&b, "\nAdditional parameters: %s\n", string(task.Parameters))
	}
	return b.String()
}
