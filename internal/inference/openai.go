package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/toolset"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint and
// maps its replies onto Decisions.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewOpenAIClient builds a client. baseURL defaults to the public OpenAI API.
func NewOpenAIClient(baseURL, apiKey, model string, temperature float64, maxTokens int, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Infer renders the log as a chat transcript, appends the decision protocol
// and the fetched tools as system guidance, and parses the reply.
func (c *OpenAIClient) Infer(ctx context.Context, turns []history.Turn, tools []toolset.Tool) (Decision, error) {
	messages := []chatMessage{{Role: "system", Content: decisionProtocol(tools)}}
	for _, t := range turns {
		if t.Instructions != "" {
			messages = append(messages, chatMessage{Role: "system", Content: t.Instructions})
		}
		role := "user"
		if t.Kind == history.KindResponse {
			role = "assistant"
		}
		content := renderParts(t.Parts)
		if content == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: role, Content: content})
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, fmt.Errorf("read chat response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Decision{}, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return Decision{}, fmt.Errorf("chat completion failed (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return Decision{}, fmt.Errorf("chat completion failed with status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return Decision{}, fmt.Errorf("chat completion returned no choices")
	}

	return ParseDecision(parsed.Choices[0].Message.Content)
}

func renderParts(parts []history.Part) string {
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case history.UserPromptPart:
			b.WriteString(v.Content)
			b.WriteString("\n")
		case history.TextPart:
			b.WriteString(v.Content)
			b.WriteString("\n")
		case history.ToolCallPart:
			args, _ := json.Marshal(v.Args)
			fmt.Fprintf(&b, "[tool call %s %s(%s)]\n", v.CallID, v.ToolName, args)
		case history.ToolReturnPart:
			fmt.Fprintf(&b, "[tool return %s %s: %s]\n", v.CallID, v.ToolName, v.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func decisionProtocol(tools []toolset.Tool) string {
	var b strings.Builder
	b.WriteString("You are executing one step of a task plan. Reply with exactly one JSON object.\n")
	b.WriteString(`To invoke a tool: {"decision":"tool_call","tool_name":"...","args":{...}}` + "\n")
	b.WriteString(`To finish the step: {"decision":"step_result","result":...,"artifact_updates":{"name":value}}` + "\n")
	b.WriteString("Use artifact_updates only to correct artifacts from earlier steps that you discovered to be wrong.\n")
	if len(tools) == 0 {
		b.WriteString("No tools are available for this step.\n")
		return b.String()
	}
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}
