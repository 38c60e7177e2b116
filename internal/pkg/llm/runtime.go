package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenthubhq/agenthub/app/models"
)

// Request is one completion call against an agent.
type Request struct {
	Agent    *models.Agent
	Prompt   string
	ImageURL string
}

// Response is the runtime's answer with its token accounting. Token counts
// feed the usage tracker; they are zero when the backend reports nothing.
type Response struct {
	Content          string
	ModelName        string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Runtime executes agent completions. The billing core treats it as an
// opaque dependency: admission happens before Complete, metering after.
type Runtime interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// EchoRuntime is a deterministic local runtime used in development and
// tests. It answers with the agent's system prompt framing and estimates
// tokens from text length.
type EchoRuntime struct {
	Latency time.Duration
}

func NewEchoRuntime() *EchoRuntime {
	return &EchoRuntime{}
}

func (r *EchoRuntime) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.ImageURL != "" && !req.Agent.SupportsVision {
		return nil, fmt.Errorf("agent %s does not support image input", req.Agent.Name)
	}

	if r.Latency > 0 {
		select {
		case <-time.After(r.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	content := fmt.Sprintf("[%s] %s", req.Agent.Name, req.Prompt)
	promptTokens := estimateTokens(req.Agent.SystemPrompt) + estimateTokens(req.Prompt)
	completionTokens := estimateTokens(content)

	return &Response{
		Content:          content,
		ModelName:        req.Agent.ModelName,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}, nil
}

// estimateTokens approximates the usual 4-chars-per-token heuristic.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
