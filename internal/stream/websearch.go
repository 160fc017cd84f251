package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Web-search sources reported in WebSearch.Source.
const (
	SourceOpenAI     = "openai"
	SourceOpenRouter = "openrouter"
	SourcePerplexity = "perplexity"
	SourceZhipu      = "zhipu"
	SourceHunyuan    = "hunyuan"
)

// SearchRule detects one provider's citation or search-result shape.
type SearchRule struct {
	Name    string
	Match   func(provider string, raw []byte) bool
	Extract func(provider string, raw []byte) *WebSearch
}

// DefaultSearchRules are tried in order; the first match wins.
var DefaultSearchRules = []SearchRule{
	{
		Name: "native-annotations",
		Match: func(_ string, raw []byte) bool {
			return gjson.GetBytes(raw, `choices.0.delta.annotations.#(type=="url_citation")`).Exists()
		},
		Extract: func(_ string, raw []byte) *WebSearch {
			var results []SearchResult
			gjson.GetBytes(raw, "choices.0.delta.annotations").ForEach(func(_, a gjson.Result) bool {
				if a.Get("type").String() != "url_citation" {
					return true
				}
				results = append(results, SearchResult{
					Title: a.Get("url_citation.title").String(),
					URL:   a.Get("url_citation.url").String(),
				})
				return true
			})
			return &WebSearch{Source: SourceOpenAI, Results: results}
		},
	},
	{
		Name: "openrouter-citations",
		Match: func(provider string, raw []byte) bool {
			return strings.EqualFold(provider, SourceOpenRouter) && hasArray(raw, "citations")
		},
		Extract: func(_ string, raw []byte) *WebSearch {
			return &WebSearch{Source: SourceOpenRouter, Results: urlList(raw, "citations")}
		},
	},
	{
		Name: "perplexity-citations",
		Match: func(_ string, raw []byte) bool {
			return hasArray(raw, "citations")
		},
		Extract: func(_ string, raw []byte) *WebSearch {
			return &WebSearch{Source: SourcePerplexity, Results: urlList(raw, "citations")}
		},
	},
	{
		Name: "perplexity-search-results",
		Match: func(_ string, raw []byte) bool {
			return hasArray(raw, "search_results")
		},
		Extract: func(_ string, raw []byte) *WebSearch {
			return &WebSearch{Source: SourcePerplexity, Results: objectList(raw, "search_results", "title", "url", "snippet")}
		},
	},
	{
		Name: "zhipu-web-search",
		Match: func(_ string, raw []byte) bool {
			return hasArray(raw, "web_search")
		},
		Extract: func(_ string, raw []byte) *WebSearch {
			return &WebSearch{Source: SourceZhipu, Results: objectList(raw, "web_search", "title", "link", "content")}
		},
	},
	{
		Name: "hunyuan-search-info",
		Match: func(_ string, raw []byte) bool {
			return hasArray(raw, "search_info.search_results")
		},
		Extract: func(_ string, raw []byte) *WebSearch {
			return &WebSearch{Source: SourceHunyuan, Results: objectList(raw, "search_info.search_results", "title", "url", "")}
		},
	},
}

// detectWebSearch returns the result of the first matching rule, or nil.
func detectWebSearch(rules []SearchRule, provider string, raw []byte) *WebSearch {
	if len(raw) == 0 {
		return nil
	}
	for _, r := range rules {
		if r.Match(provider, raw) {
			return r.Extract(provider, raw)
		}
	}
	return nil
}

func hasArray(raw []byte, path string) bool {
	v := gjson.GetBytes(raw, path)
	return v.IsArray() && len(v.Array()) > 0
}

func urlList(raw []byte, path string) []SearchResult {
	var out []SearchResult
	for _, v := range gjson.GetBytes(raw, path).Array() {
		out = append(out, SearchResult{URL: v.String()})
	}
	return out
}

func objectList(raw []byte, path, title, url, content string) []SearchResult {
	var out []SearchResult
	for _, v := range gjson.GetBytes(raw, path).Array() {
		r := SearchResult{
			Title: v.Get(title).String(),
			URL:   v.Get(url).String(),
		}
		if content != "" {
			r.Content = v.Get(content).String()
		}
		out = append(out, r)
	}
	return out
}
