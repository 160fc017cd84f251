package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/arin/chatstream/internal/stream"
)

// ModelInfo describes one model offered by a server.
type ModelInfo struct {
	Name          string
	Size          int64
	ModifiedAt    time.Time
	Family        string
	ParameterSize string
	Quantization  string
}

const maxListBody = 4 << 20

// ListModels returns the locally installed models from /api/tags.
func (o *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	body, err := getJSON(ctx, o.httpClient, o.settings.BaseURL+"/api/tags", "", ProviderOllama)
	if err != nil {
		return nil, err
	}

	var models []ModelInfo
	gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
		info := ModelInfo{
			Name:          m.Get("name").String(),
			Size:          m.Get("size").Int(),
			Family:        m.Get("details.family").String(),
			ParameterSize: m.Get("details.parameter_size").String(),
			Quantization:  m.Get("details.quantization_level").String(),
		}
		if t, err := time.Parse(time.RFC3339Nano, m.Get("modified_at").String()); err == nil {
			info.ModifiedAt = t
		}
		models = append(models, info)
		return true
	})
	sortModels(models)
	return models, nil
}

// ListModels returns the models from /models.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	body, err := getJSON(ctx, p.httpClient, p.settings.BaseURL+"/models", p.settings.APIKey, p.settings.Provider)
	if err != nil {
		return nil, err
	}

	var models []ModelInfo
	gjson.GetBytes(body, "data").ForEach(func(_, m gjson.Result) bool {
		info := ModelInfo{Name: m.Get("id").String()}
		if created := m.Get("created").Int(); created > 0 {
			info.ModifiedAt = time.Unix(created, 0)
		}
		models = append(models, info)
		return true
	})
	sortModels(models)
	return models, nil
}

// HasModel reports whether name is among models. A missing tag matches ":latest".
func HasModel(models []ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name || m.Name == name+":latest" {
			return true
		}
	}
	return false
}

func sortModels(models []ModelInfo) {
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
}

func getJSON(ctx context.Context, hc *http.Client, url, apiKey, provider string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &stream.TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBody))
	if err != nil {
		return nil, &stream.TransportError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 4096 {
			snippet = snippet[:4096]
		}
		return nil, &stream.ProtocolError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       snippet,
			Message:    stream.DescribeStatus(resp.StatusCode, snippet),
		}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse response from %s", url)
	}
	return body, nil
}
