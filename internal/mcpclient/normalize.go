package mcpclient

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sourcegraph/jsonrpc2"
)

// ToolResult is the uniform shape handed to the HTTP layer: an error flag and
// a single combined text payload.
type ToolResult struct {
	IsError bool   `json:"isError"`
	Content string `json:"content"`
}

// contentItem is one entry of a mixed result content list.
type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Normalize flattens the heterogeneous result shapes the upstream produces
// into a ToolResult wrapped back in an envelope with the original correlation
// id. Error envelopes pass through unchanged, as do results that are not a
// mapping or carry no content field. Text fragments are joined by newlines;
// non-text items are noted and excluded but never fail the call. Normalizing
// an already-normalized response yields the same response.
func Normalize(resp *jsonrpc2.Response) *jsonrpc2.Response {
	if resp == nil || resp.Error != nil || resp.Result == nil {
		return resp
	}

	var result struct {
		IsError bool            `json:"isError"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(*resp.Result, &result); err != nil || result.Content == nil {
		return resp
	}

	var fragments []string
	var items []json.RawMessage
	if err := json.Unmarshal(result.Content, &items); err == nil {
		for _, raw := range items {
			var item contentItem
			if err := json.Unmarshal(raw, &item); err != nil {
				slog.Debug("skipping undecodable content item", "item", string(raw))
				continue
			}
			switch item.Type {
			case "text":
				fragments = append(fragments, item.Text)
			default:
				// Resource references and other non-text items are dropped
				// from the combined payload.
				slog.Debug("dropping non-text content item", "type", item.Type, "name", item.Name, "uri", item.URI)
			}
		}
	} else {
		var text string
		if err := json.Unmarshal(result.Content, &text); err != nil {
			return resp
		}
		fragments = append(fragments, text)
	}

	normalized := &jsonrpc2.Response{ID: resp.ID}
	if err := normalized.SetResult(ToolResult{IsError: result.IsError, Content: strings.Join(fragments, "\n")}); err != nil {
		slog.Error("failed to rewrap normalized result", "error", err)
		return resp
	}
	return normalized
}
