package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/brunobiangulo/orgatlas/extraction"
	"github.com/brunobiangulo/orgatlas/llm"
	"github.com/brunobiangulo/orgatlas/metrics"
)

// Chunk task outcomes, also used as metric labels.
const (
	outcomePending       = "pending"
	outcomeOK            = "ok"
	outcomeProviderError = "provider_error"
	outcomeParseError    = "parse_error"
	outcomeSkipped       = "skipped"
)

// chunkTask is one step of a pass: a single provider call and the parse of
// its response. Each step records its own outcome.
type chunkTask struct {
	index   int
	total   int
	text    string
	outcome string
	result  *extraction.Result
	err     error // provider failure; parse failures are local
	elapsed time.Duration
}

// plan builds the ordered task list for a document's chunks.
func plan(chunks []string) []*chunkTask {
	tasks := make([]*chunkTask, len(chunks))
	for i, c := range chunks {
		tasks[i] = &chunkTask{index: i, total: len(chunks), text: c, outcome: outcomePending}
	}
	return tasks
}

func (t *chunkTask) skip() {
	t.outcome = outcomeSkipped
	metrics.ChunksTotal.WithLabelValues(outcomeSkipped).Inc()
}

// runTask calls the provider for t under the retry policy, then parses the
// response. A parse failure leaves t.result nil and t.err unset.
func (r *Runner) runTask(ctx context.Context, docID string, t *chunkTask, p llm.Provider, kind string) {
	start := time.Now()
	prompt := extraction.BuildPrompt(t.text, t.index+1, t.total)

	var resp *llm.Response
	err := r.retry.Do(ctx, func() error {
		callCtx, cancel := r.chunkContext(ctx)
		defer cancel()

		callStart := time.Now()
		out, err := p.Extract(callCtx, prompt)
		metrics.ProviderLatency.WithLabelValues(kind).Observe(time.Since(callStart).Seconds())
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	t.elapsed = time.Since(start)

	if err != nil {
		t.err = err
		t.outcome = outcomeProviderError
		metrics.ChunksTotal.WithLabelValues(outcomeProviderError).Inc()
		slog.Warn("extract: provider call failed",
			"doc_id", docID, "chunk", t.index+1, "of", t.total,
			"elapsed", t.elapsed.Round(time.Millisecond), "error", err)
		return
	}

	if resp == nil {
		t.outcome = outcomeParseError
		metrics.ChunksTotal.WithLabelValues(outcomeParseError).Inc()
		slog.Warn("extract: discarding empty chunk response",
			"doc_id", docID, "chunk", t.index+1, "of", t.total)
		return
	}

	metrics.TokensUsed.WithLabelValues("input").Add(float64(resp.InputTokens))
	metrics.TokensUsed.WithLabelValues("output").Add(float64(resp.OutputTokens))

	res, err := extraction.Parse(resp.Text)
	if err != nil {
		t.outcome = outcomeParseError
		metrics.ChunksTotal.WithLabelValues(outcomeParseError).Inc()
		slog.Warn("extract: discarding unparseable chunk response",
			"doc_id", docID, "chunk", t.index+1, "of", t.total,
			"response_chars", len(resp.Text), "error", err)
		return
	}

	t.result = res
	t.outcome = outcomeOK
	metrics.ChunksTotal.WithLabelValues(outcomeOK).Inc()
	slog.Info("extract: chunk processed",
		"doc_id", docID, "chunk", t.index+1, "of", t.total,
		"entities", len(res.Entities), "relationships", len(res.Relationships),
		"insights", len(res.Insights), "hints", len(res.FrontierHints),
		"model", resp.Model, "elapsed", t.elapsed.Round(time.Millisecond))
}

func (r *Runner) chunkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.chunkTimeout > 0 {
		return context.WithTimeout(ctx, r.chunkTimeout)
	}
	return context.WithCancel(ctx)
}

// results collects parsed results in chunk order.
func results(tasks []*chunkTask) []*extraction.Result {
	out := make([]*extraction.Result, 0, len(tasks))
	for _, t := range tasks {
		if t.result != nil {
			out = append(out, t.result)
		}
	}
	return out
}
