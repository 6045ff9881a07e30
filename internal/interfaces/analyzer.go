package interfaces

import (
	"context"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// Analyzer is the external analysis collaborator. The report content
// logic (reasoning steps, prompt construction, model selection) lives
// behind this interface and is invoked as a black box.
type Analyzer interface {
	// Analyze produces a report artifact for the task from the resolved
	// market data and returns a reference to it.
	Analyze(ctx context.Context, task *models.Task, data *models.MarketData) (resultRef string, err error)
}
