package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// LocalAnalyzer renders a deterministic summary report without calling
// any external service. Used when no API key is configured so the
// pipeline stays exercisable in development.
type LocalAnalyzer struct {
	reportsDir string
	logger     arbor.ILogger
}

// NewLocalAnalyzer creates the offline fallback analyzer
func NewLocalAnalyzer(reportsDir string, logger arbor.ILogger) (*LocalAnalyzer, error) {
	if reportsDir == "" {
		reportsDir = "./data/reports"
	}
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	logger.Warn().Msg("No API key configured, using local summary analyzer")

	return &LocalAnalyzer{
		reportsDir: reportsDir,
		logger:     logger,
	}, nil
}

var _ interfaces.Analyzer = (*LocalAnalyzer)(nil)

// Analyze writes a basic statistics report from the resolved data
func (a *LocalAnalyzer) Analyze(ctx context.Context, task *models.Task, data *models.MarketData) (string, error) {
	if len(data.Records) == 0 {
		return "", fmt.Errorf("no records to analyze")
	}

	latest := data.Latest()
	first := data.Records[0]
	change := 0.0
	if first.Close != 0 {
		change = (latest.Close - first.Close) / first.Close * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", data.Symbol, data.Market)
	fmt.Fprintf(&b, "Data source: %s\n\n", data.Source)
	fmt.Fprintf(&b, "Window: %s to %s (%d records)\n\n",
		first.Date.Format("2006-01-02"), latest.Date.Format("2006-01-02"), len(data.Records))
	fmt.Fprintf(&b, "Latest close: %.2f\n\n", latest.Close)
	fmt.Fprintf(&b, "Change over window: %+.2f%%\n", change)

	filename := fmt.Sprintf("%s.md", task.ID)
	path := filepath.Join(a.reportsDir, filename)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	a.logger.Info().Str("task_id", task.ID).Msg("Local summary report generated")
	return filepath.ToSlash(filepath.Join("reports", filename)), nil
}
