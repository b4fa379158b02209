package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/rag/retrieval"

	"golang.org/x/sync/errgroup"
)

const (
	SingleChannelK = 3
	PerChannelK    = 2
	MaxPassages    = 3
)

type ScoredPassage struct {
	Text      string         `json:"text"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ChannelID string         `json:"channel_id"`
	BaseURL   string         `json:"base_url,omitempty"`
}

// DegradedChannel notes a channel that contributed nothing because it failed.
type DegradedChannel struct {
	ChannelID string `json:"channel_id"`
	Reason    string `json:"reason"`
}

// Ranked is sorted by Score descending. Format is only set for a single
// explicit channel.
type Ranked struct {
	Passages []ScoredPassage   `json:"passages"`
	Format   string            `json:"format,omitempty"`
	Degraded []DegradedChannel `json:"degraded,omitempty"`
}

type Merger struct {
	registry *collection.Registry
	stores   map[string]retrieval.Store
}

// NewMerger takes one store per collection id. Collections without a store
// show up as degraded when queried.
func NewMerger(registry *collection.Registry, stores map[string]retrieval.Store) *Merger {
	return &Merger{registry: registry, stores: stores}
}

// Merge queries one channel, or every channel when channelID is "all".
func (m *Merger) Merge(ctx context.Context, query, channelID string) (Ranked, error) {
	if channelID == collection.ChannelAll {
		return m.mergeAll(ctx, query), nil
	}

	col, ok := m.registry.Get(channelID)
	if !ok {
		return Ranked{}, fmt.Errorf("%w %q", collection.ErrUnknownChannel, channelID)
	}

	res := m.search(ctx, col, query, SingleChannelK)
	ranked := Ranked{
		Passages: rank(res.passages, MaxPassages),
		Format:   col.Format,
	}
	if res.degraded != nil {
		ranked.Degraded = []DegradedChannel{*res.degraded}
	}
	return ranked, nil
}

type channelResult struct {
	passages []ScoredPassage
	degraded *DegradedChannel
}

func (m *Merger) mergeAll(ctx context.Context, query string) Ranked {
	cols := m.registry.Collections()
	results := make([]channelResult, len(cols))

	var g errgroup.Group
	for i, col := range cols {
		g.Go(func() error {
			results[i] = m.search(ctx, col, query, PerChannelK)
			return nil
		})
	}
	_ = g.Wait()

	// registry order then native rank, so the stable sort breaks ties the same way every time
	var all []ScoredPassage
	var degraded []DegradedChannel
	for _, r := range results {
		all = append(all, r.passages...)
		if r.degraded != nil {
			degraded = append(degraded, *r.degraded)
		}
	}

	return Ranked{
		Passages: rank(all, MaxPassages),
		Degraded: degraded,
	}
}

func (m *Merger) search(ctx context.Context, col collection.Collection, query string, k int) channelResult {
	store, ok := m.stores[col.ID]
	if !ok || store == nil {
		return channelResult{degraded: &DegradedChannel{ChannelID: col.ID, Reason: "no retrieval store configured"}}
	}

	hits, err := store.Search(ctx, query, k)
	if err != nil {
		return channelResult{degraded: &DegradedChannel{ChannelID: col.ID, Reason: err.Error()}}
	}

	if len(hits) > k {
		hits = hits[:k]
	}
	passages := make([]ScoredPassage, 0, len(hits))
	for _, h := range hits {
		if math.IsNaN(h.Score) || math.IsInf(h.Score, 0) {
			continue
		}
		passages = append(passages, ScoredPassage{
			Text:      h.Text,
			Score:     h.Score,
			Metadata:  h.Metadata,
			ChannelID: col.ID,
			BaseURL:   col.BaseURL,
		})
	}
	return channelResult{passages: passages}
}

func rank(passages []ScoredPassage, limit int) []ScoredPassage {
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > limit {
		passages = passages[:limit]
	}
	if passages == nil {
		passages = []ScoredPassage{}
	}
	return passages
}
