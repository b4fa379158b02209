package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
)

type resourceDocument struct {
	Collection []map[string]any `json:"collection"`
}

// LoadResources fetches the resource dataset from an http(s) URL or a
// local path. The document shape is {"collection": [...]}.
func LoadResources(ctx context.Context, client *http.Client, source string) ([]map[string]any, error) {
	var raw []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		raw, err = fetch(ctx, client, source)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}

	var doc resourceDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}
	if doc.Collection == nil {
		doc.Collection = []map[string]any{}
	}
	return doc.Collection, nil
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", res.StatusCode, url)
	}
	return body, nil
}

const maxStatTags = 10

// ResourceStats summarises the dataset for the script-writing prompt.
type ResourceStats struct {
	Count  int      `json:"count"`
	Fields []string `json:"fields"`
	Types  []string `json:"types"`
	Tags   []string `json:"tags"`
}

func (r *Registry) ResourceStats() ResourceStats {
	fields := map[string]struct{}{}
	types := map[string]struct{}{}
	var tags []string
	seenTag := map[string]struct{}{}

	for _, rec := range r.resources {
		for k := range rec {
			fields[k] = struct{}{}
		}
		if t, ok := rec["type"].(string); ok && t != "" {
			types[t] = struct{}{}
		}
		list, _ := rec["tags"].([]any)
		for _, v := range list {
			tag, ok := v.(string)
			if !ok || len(tags) >= maxStatTags {
				continue
			}
			if _, dup := seenTag[tag]; dup {
				continue
			}
			seenTag[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	return ResourceStats{
		Count:  len(r.resources),
		Fields: sortedKeys(fields),
		Types:  sortedKeys(types),
		Tags:   tags,
	}
}

// Describe renders the stats as prompt text.
func (s ResourceStats) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "`resources` is a []map[string]any with %d records.\n", s.Count)
	fmt.Fprintf(&b, "Fields: %s\n", strings.Join(s.Fields, ", "))
	if len(s.Types) > 0 {
		fmt.Fprintf(&b, "Values of \"type\": %s\n", strings.Join(s.Types, ", "))
	}
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, "Example tags: %s\n", strings.Join(s.Tags, ", "))
	}
	return b.String()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
