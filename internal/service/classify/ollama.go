package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/ollama/ollama/api"

	"ecobin/internal/dto"
)

const ollamaPrompt = `You are a waste sorting assistant. Look at the image and decide which
waste category the main object belongs to. Allowed categories: %s.
Answer with JSON only, exactly in this form:
{"className": "<category>", "probability": <number between 0 and 1>}`

// Ollama classifies samples with a vision model served by Ollama.
type Ollama struct {
	client *api.Client
	model  string
	labels []string
	ready  atomic.Bool
}

// NewOllama creates an Ollama backend. It becomes ready after Warmup.
func NewOllama(rawURL, model string, labels []string, httpClient *http.Client) (*Ollama, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL %q", rawURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Ollama{
		client: api.NewClient(base, httpClient),
		model:  model,
		labels: labels,
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Ready() bool { return o.ready.Load() }

// Warmup checks the server is reachable and marks the backend ready.
func (o *Ollama) Warmup(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat failed: %w", err)
	}
	o.ready.Store(true)
	return nil
}

func (o *Ollama) Classify(ctx context.Context, sample dto.Sample) ([]dto.Candidate, error) {
	if !o.Ready() {
		return nil, ErrBackendNotReady
	}
	if sample.Empty() {
		return nil, fmt.Errorf("empty sample")
	}

	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{{
			Role:    "user",
			Content: fmt.Sprintf(ollamaPrompt, strings.Join(o.labels, ", ")),
			Images:  []api.ImageData{api.ImageData(sample.Data)},
		}},
		Stream:  &stream,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var content strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return ParseModelAnswer(content.String(), o.labels)
}

// ParseModelAnswer extracts the JSON object from a model answer and maps
// the class name onto one of labels (case-insensitively) when labels are set.
func ParseModelAnswer(answer string, labels []string) ([]dto.Candidate, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in model answer", ErrMalformedResponse)
	}

	candidates, err := ParseResponse([]byte(answer[start : end+1]))
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return candidates, nil
	}

	out := candidates[:0]
	for _, c := range candidates {
		for _, label := range labels {
			if strings.EqualFold(strings.TrimSpace(c.ClassName), label) {
				c.ClassName = label
				out = append(out, c)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: unknown category in model answer", ErrMalformedResponse)
	}
	return out, nil
}
