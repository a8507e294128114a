// Package gemini forwards media artifacts and chat questions to the Gemini
// multimodal model. It satisfies session.Analyzer.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"plugd/internal/storage"
)

const defaultModel = "gemini-2.0-flash-exp"

// Client wraps the genai SDK. Each media artifact is uploaded to the File API
// once and the remote handle is reused for every question in the session.
type Client struct {
	client *genai.Client
	model  string

	maxHistory   int
	pollInterval time.Duration

	mu    sync.Mutex
	files map[string]*genai.File // artifact path -> remote file

	logger *slog.Logger
}

// NewClient connects to Gemini with the given API key. An empty model name
// selects the default; maxHistoryTurns <= 0 selects the default context
// window.
func NewClient(ctx context.Context, apiKey, model string, maxHistoryTurns int) (*Client, error) {
	if model == "" {
		model = defaultModel
	}
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = defaultMaxHistoryTurns
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{
		client:       c,
		model:        model,
		maxHistory:   maxHistoryTurns,
		pollInterval: time.Second,
		files:        make(map[string]*genai.File),
		logger:       slog.Default(),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// upload sends the artifact through the File API and waits until the remote
// side finishes processing it. The handle is cached per artifact path.
func (c *Client) upload(ctx context.Context, mediaPath string) (*genai.File, error) {
	c.mu.Lock()
	if f, ok := c.files[mediaPath]; ok {
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()

	f, err := c.client.UploadFileFromPath(ctx, mediaPath, nil)
	if err != nil {
		return nil, fmt.Errorf("uploading media: %w", err)
	}

	for f.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		f, err = c.client.GetFile(ctx, f.Name)
		if err != nil {
			return nil, fmt.Errorf("polling uploaded media: %w", err)
		}
	}
	if f.State != genai.FileStateActive {
		return nil, fmt.Errorf("uploaded media in unexpected state %v", f.State)
	}

	c.mu.Lock()
	c.files[mediaPath] = f
	c.mu.Unlock()

	c.logger.Debug("media uploaded", "path", mediaPath, "remote", f.Name)
	return f, nil
}

// Summarize runs the one-time analysis pass over the artifact and returns the
// model's summary. Exactly one model call; retries are the caller's problem.
func (c *Client) Summarize(ctx context.Context, mediaPath string) (string, error) {
	f, err := c.upload(ctx, mediaPath)
	if err != nil {
		return "", err
	}

	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx,
		genai.FileData{MIMEType: f.MIMEType, URI: f.URI},
		genai.Text(analysisPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}

// Respond answers a question about the artifact using the conversation
// history for context.
func (c *Client) Respond(ctx context.Context, mediaPath string, history []storage.ChatTurn, question string) (string, error) {
	f, err := c.upload(ctx, mediaPath)
	if err != nil {
		return "", err
	}

	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx,
		genai.FileData{MIMEType: f.MIMEType, URI: f.URI},
		genai.Text(chatPrompt(history, question, c.maxHistory)),
	)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}

// Release deletes the remote file for an artifact, if any. Best-effort.
func (c *Client) Release(ctx context.Context, mediaPath string) {
	c.mu.Lock()
	f, ok := c.files[mediaPath]
	delete(c.files, mediaPath)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.client.DeleteFile(ctx, f.Name); err != nil {
		c.logger.Warn("deleting remote media", "remote", f.Name, "error", err)
	}
}

// responseText concatenates all text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	var out string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out += string(text)
			}
		}
	}
	return out
}
