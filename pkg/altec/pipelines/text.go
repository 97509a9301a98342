package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/mindforge/altec/pkg/altec/adapters"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/policy"
)

// textCheckpoint threads state across the text-profile pipeline's five
// phases.
type textCheckpoint struct {
	DocumentRef string   `json:"document_ref"`
	Chunks      []string `json:"chunks,omitempty"`
	ByteCount   int      `json:"byte_count,omitempty"`
	WordCount   int      `json:"word_count,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	ResultRef   string   `json:"result_ref,omitempty"`
}

func decodeText(raw []byte) (textCheckpoint, error) {
	var chk textCheckpoint
	if len(raw) == 0 {
		return chk, nil
	}
	if err := json.Unmarshal(raw, &chk); err != nil {
		return chk, fmt.Errorf("decode text checkpoint: %w", err)
	}
	return chk, nil
}

func encodeText(chk textCheckpoint) ([]byte, error) {
	out, err := json.Marshal(chk)
	if err != nil {
		return nil, fmt.Errorf("encode text checkpoint: %w", err)
	}
	return out, nil
}

// TextProfile builds the text-profile pipeline (spec.md §4.4):
// parse, extract_stats, extract_keywords, summarize, finalize.
func TextProfile(a *adapters.Adapters) executor.Pipeline {
	return executor.Pipeline{
		Kind: "text-profile",
		Phases: []executor.Phase{
			{Name: "parse", Run: textParse},
			{Name: "extract_stats", Run: textExtractStats},
			{Name: "extract_keywords", Run: textExtractKeywords},
			{Name: "summarize", Run: textSummarize(a)},
			{Name: "finalize", Run: textFinalize(a)},
		},
		ResultRef: func(finalCheckpoint []byte) string {
			chk, err := decodeText(finalCheckpoint)
			if err != nil {
				return ""
			}
			return chk.ResultRef
		},
	}
}

// textParse chunks the raw document into overlapping windows using a
// recursive-character splitter, the same strategy a retrieval pipeline
// would use to prepare text for embedding. Later phases work over chunks
// rather than the whole document so very large documents still fit the
// per-phase progress model.
func textParse(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	documentRef, _ := descriptor["document_ref"].(string)
	body, _ := descriptor["body"].(string)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(2000),
		textsplitter.WithChunkOverlap(200),
	)
	chunks, err := splitter.SplitText(body)
	if err != nil {
		return nil, executor.Permanent(fmt.Errorf("split document: %w", err))
	}

	chk := textCheckpoint{DocumentRef: documentRef, Chunks: chunks}
	sink.Report(100, fmt.Sprintf("parsed into %d chunks", len(chunks)))
	return encodeText(chk)
}

func textExtractStats(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	chk, err := decodeText(prev)
	if err != nil {
		return nil, executor.Permanent(err)
	}
	var byteCount, wordCount int
	for _, c := range chk.Chunks {
		byteCount += len(c)
		wordCount += len(strings.Fields(c))
	}
	chk.ByteCount = byteCount
	chk.WordCount = wordCount
	sink.Report(100, "stats extracted")
	return encodeText(chk)
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]{4,}`)

// textExtractKeywords does a cheap frequency-based keyword pass: no model
// call is warranted for this phase, only the final summarize phase talks
// to an LLM.
func textExtractKeywords(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	chk, err := decodeText(prev)
	if err != nil {
		return nil, executor.Permanent(err)
	}
	counts := make(map[string]int)
	for _, c := range chk.Chunks {
		for _, w := range wordPattern.FindAllString(strings.ToLower(c), -1) {
			counts[w]++
		}
	}
	type pair struct {
		word  string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for w, c := range counts {
		pairs = append(pairs, pair{w, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})
	limit := 10
	if len(pairs) < limit {
		limit = len(pairs)
	}
	keywords := make([]string, 0, limit)
	for _, p := range pairs[:limit] {
		keywords = append(keywords, p.word)
	}
	chk.Keywords = keywords
	sink.Report(100, "keywords extracted")
	return encodeText(chk)
}

func textSummarize(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeText(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		joined := strings.Join(chk.Chunks, "\n")
		summary, err := a.Summarize.Summarize(ctx, joined)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.Summary = summary
		sink.Report(100, "document summarized")
		return encodeText(chk)
	}
}

func textFinalize(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeText(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		payload, err := json.Marshal(chk)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		ref, err := a.ResultStore.Put(ctx, chk.DocumentRef, payload)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.ResultRef = ref
		sink.Report(100, "result stored")
		return encodeText(chk)
	}
}
