package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/agentcoredev/runtime/core"
)

// AzureChatBackend is a REMOTE-tier Backend talking to an Azure OpenAI
// chat-completions deployment over azcore's low-level request pipeline
// (the same pattern generated Azure SDK clients use internally).
type AzureChatBackend struct {
	id         string
	endpoint   string
	deployment string
	apiVersion string
	pipeline   runtime.Pipeline
}

// NewAzureChatBackend builds an AzureChatBackend authenticated with a
// resource API key.
func NewAzureChatBackend(id, endpoint, deployment, apiKey string) *AzureChatBackend {
	cred := azcore.NewKeyCredential(apiKey)
	authPolicy := runtime.NewKeyCredentialPolicy(cred, "api-key", nil)
	pipeline := runtime.NewPipeline("agentcoredev/runtime", "v1", runtime.PipelineOptions{
		PerRetry: []policy.Policy{authPolicy},
	}, &policy.ClientOptions{})
	return &AzureChatBackend{
		id: id, endpoint: endpoint, deployment: deployment,
		apiVersion: "2024-06-01", pipeline: pipeline,
	}
}

func (b *AzureChatBackend) ID() string { return b.id }

type azureChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type azureChatRequest struct {
	Messages  []azureChatMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens,omitempty"`
}

type azureChatChoice struct {
	Message      azureChatMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type azureChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type azureChatResponse struct {
	Choices []azureChatChoice `json:"choices"`
	Usage   azureChatUsage    `json:"usage"`
}

func (b *AzureChatBackend) Invoke(ctx context.Context, capability string, input []byte, maxTokens int) (core.InvokeResult, error) {
	if capability != "chat" && capability != "code" {
		return core.InvokeResult{}, &core.PermanentError{Cause: core.Errorf(core.KindCapabilityUnsupported, "azure backend %q does not support %q", b.id, capability)}
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", b.endpoint, b.deployment, b.apiVersion)
	body, err := json.Marshal(azureChatRequest{
		Messages:  []azureChatMessage{{Role: "user", Content: string(input)}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return core.InvokeResult{}, fmt.Errorf("azure backend: encode request: %w", err)
	}

	req, err := runtime.NewRequest(ctx, http.MethodPost, url)
	if err != nil {
		return core.InvokeResult{}, fmt.Errorf("azure backend: build request: %w", err)
	}
	if err := req.SetBody(streamingBody(body), "application/json"); err != nil {
		return core.InvokeResult{}, fmt.Errorf("azure backend: set body: %w", err)
	}

	resp, err := b.pipeline.Do(req)
	if err != nil {
		return core.InvokeResult{}, fmt.Errorf("azure backend: transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.InvokeResult{}, fmt.Errorf("azure backend: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return core.InvokeResult{}, fmt.Errorf("azure backend: server error %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return core.InvokeResult{}, &core.PermanentError{Cause: fmt.Errorf("azure backend: client error %d: %s", resp.StatusCode, raw)}
	}

	var parsed azureChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return core.InvokeResult{}, fmt.Errorf("azure backend: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return core.InvokeResult{}, fmt.Errorf("azure backend: empty choices")
	}
	return core.InvokeResult{
		Content:      []byte(parsed.Choices[0].Message.Content),
		TokensIn:     parsed.Usage.PromptTokens,
		TokensOut:    parsed.Usage.CompletionTokens,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

func (b *AzureChatBackend) Probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/openai/deployments/%s?api-version=%s", b.endpoint, b.deployment, b.apiVersion)
	req, err := runtime.NewRequest(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	resp, err := b.pipeline.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("azure backend: probe failed with status %d", resp.StatusCode)
	}
	return nil
}

func streamingBody(b []byte) io.ReadSeekCloser {
	return nopCloser{bytes.NewReader(b)}
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }
