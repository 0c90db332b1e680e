package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// anthropicMaxTokens caps replies; the Messages API requires a limit.
const anthropicMaxTokens = 2048

const jsonOnly = "Respond with a single JSON value and nothing else."

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
}

// NewAnthropic returns a provider for key. baseURL overrides the API host.
func NewAnthropic(key, baseURL string) *Anthropic {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &Anthropic{client: anthropic.NewClient(key, opts...)}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Complete maps system turns to the system prompt; the API has no system role.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	var system []string
	msgs := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantTextMessage(m.Content))
		default:
			msgs = append(msgs, anthropic.NewUserTextMessage(m.Content))
		}
	}
	if req.Options.JSONMode {
		system = append(system, jsonOnly)
	}

	mreq := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Options.Model),
		System:    strings.Join(system, "\n\n"),
		Messages:  msgs,
		MaxTokens: anthropicMaxTokens,
	}
	if req.Options.Temperature != nil {
		t := float32(*req.Options.Temperature)
		mreq.Temperature = &t
	}

	resp, err := a.client.CreateMessages(ctx, mreq)
	if err != nil {
		return "", anthropicError(err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// anthropicStatus maps the API's error types back to the HTTP status that
// carries them; the client keeps the status only in the message text.
var anthropicStatus = map[anthropic.ErrType]int{
	anthropic.ErrTypeInvalidRequest: http.StatusBadRequest,
	anthropic.ErrTypeAuthentication: http.StatusUnauthorized,
	anthropic.ErrTypePermission:     http.StatusForbidden,
	anthropic.ErrTypeNotFound:       http.StatusNotFound,
	anthropic.ErrTypeTooLarge:       http.StatusRequestEntityTooLarge,
	anthropic.ErrTypeRateLimit:      http.StatusTooManyRequests,
	anthropic.ErrTypeApi:            http.StatusInternalServerError,
	anthropic.ErrTypeOverloaded:     529,
}

func anthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		if status, ok := anthropicStatus[apiErr.Type]; ok {
			return &StatusError{Status: status, Err: err}
		}
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode > 0 {
		return &StatusError{Status: reqErr.StatusCode, Err: err}
	}
	return err
}
