package chat

import (
	"context"
	"strconv"
	"strings"
)

// Token estimator constants for binary attachments. Values are conservative
// approximations of typical provider accounting.
const (
	imageTokenCost = 258

	audioTokensPerSecond = 32
	mediaTokenFloor      = 64
	mediaTokenCeiling    = 131072

	pdfBytesPerPage = 2400
	pdfTokenFloor   = 128
	pdfTokenCeiling = 65536

	unknownBlobTokenCost = 1024
)

// TokenCounter is the oracle consulted for accurate token counts. It may
// call a remote counting service; errors fall back to the local estimator.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// WindowConfig is a channel's token-budget configuration.
type WindowConfig struct {
	// ThresholdEnabled turns trimming on. When off, only the summary
	// boundary applies.
	ThresholdEnabled bool
	// Threshold is an absolute token count ("120000") or a percentage of
	// MaxContextTokens ("80%").
	Threshold string
	// MaxContextTokens is the channel's full context window.
	MaxContextTokens int
	// ExtraCut is a safety margin subtracted from the threshold target.
	ExtraCut int
	// HistoryThinkingRounds controls how many trailing rounds count their
	// recorded thought tokens. 0 counts none, -1 counts all rounds.
	HistoryThinkingRounds int
}

// TrimResult is the window manager's decision: the transport-ready history
// slice to send, and the raw-history index trimming started at.
// TrimStartIndex == 0 means no trimming occurred.
type TrimResult struct {
	History        []Content
	TrimStartIndex int
}

// Round is a derived grouping of history: it starts at a genuine (non
// tool-result) user message and ends just before the next one.
type Round struct {
	Start int // index of the round's first message
	End   int // exclusive
	// Tokens is the round's own cost; Cumulative is the running total
	// through the end of this round, including the system prompt.
	Tokens     int
	Cumulative int
}

// Rounds splits history into conversation rounds. A new round starts only
// at a user message that is not a tool-result message.
func Rounds(history []Content) []Round {
	var rounds []Round
	for i, c := range history {
		if c.Role == RoleUser && !c.IsFunctionResponse {
			if len(rounds) > 0 {
				rounds[len(rounds)-1].End = i
			}
			rounds = append(rounds, Round{Start: i, End: len(history)})
			continue
		}
		if len(rounds) == 0 {
			// History starting mid-round (e.g. a summary message) still
			// belongs to a leading round.
			rounds = append(rounds, Round{Start: i, End: len(history)})
		}
	}
	return rounds
}

// summaryBoundary returns the index of the latest context summary, or 0.
// Everything before the summary is excluded unconditionally: the summary
// stands in for it.
func summaryBoundary(history []Content) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary {
			return i
		}
	}
	return 0
}

// ComputeTrim decides how much of the history is safe to send. history is
// the raw persisted history; apiHistory is the transport-ready projection
// of the same conversation (possibly fewer elements). The computation is a
// pure function of its inputs: recomputing with unchanged inputs yields the
// same boundary, so repeated calls never oscillate.
func ComputeTrim(ctx context.Context, history, apiHistory []Content, cfg WindowConfig, counter TokenCounter, systemPrompt string) TrimResult {
	if len(history) == 0 || len(apiHistory) == 0 {
		return TrimResult{History: apiHistory, TrimStartIndex: 0}
	}

	effectiveStart := summaryBoundary(history)
	working := history[effectiveStart:]
	rounds := Rounds(working)

	systemCost := countOrEstimate(ctx, counter, systemPrompt)

	thoughtMin, thoughtMax := thinkingRange(len(rounds), cfg.HistoryThinkingRounds)

	running := systemCost
	for ri := range rounds {
		r := &rounds[ri]
		includeThoughts := ri >= thoughtMin && ri <= thoughtMax
		for i := r.Start; i < r.End; i++ {
			r.Tokens += contentTokens(working[i], includeThoughts)
		}
		running += r.Tokens
		r.Cumulative = running
	}

	trimStart := effectiveStart
	if cfg.ThresholdEnabled {
		threshold := resolveThreshold(cfg)
		if threshold > 0 && running > threshold {
			target := threshold - cfg.ExtraCut
			skipped := 0
			// Skip the smallest number of leading rounds that brings the
			// total under target. The final round is always retained even
			// when it alone exceeds the target.
			for ri := 0; ri < len(rounds)-1; ri++ {
				if running-skipped <= target {
					break
				}
				skipped += rounds[ri].Tokens
				trimStart = effectiveStart + rounds[ri].End
			}
			if running-skipped > target && len(rounds) > 0 {
				trimStart = effectiveStart + rounds[len(rounds)-1].Start
			}
		}
	}

	return TrimResult{
		History:        sliceAPIHistory(history, apiHistory, trimStart),
		TrimStartIndex: trimStart,
	}
}

// thinkingRange computes the round-index range whose recorded thought
// tokens are included. The range is relative to the effective (post
// summary) history and independent of the summary boundary itself.
func thinkingRange(numRounds, historyThinkingRounds int) (int, int) {
	switch {
	case historyThinkingRounds < 0:
		return 0, numRounds - 1
	case historyThinkingRounds == 0:
		return numRounds, numRounds // empty range
	default:
		min := numRounds - historyThinkingRounds
		if min < 0 {
			min = 0
		}
		return min, numRounds - 1
	}
}

// resolveThreshold converts the configured threshold into an absolute token
// count. A trailing "%" resolves against MaxContextTokens.
func resolveThreshold(cfg WindowConfig) int {
	t := strings.TrimSpace(cfg.Threshold)
	if t == "" {
		return 0
	}
	if strings.HasSuffix(t, "%") {
		pct, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(t, "%")))
		if err != nil || pct <= 0 {
			return 0
		}
		return cfg.MaxContextTokens * pct / 100
	}
	abs, err := strconv.Atoi(t)
	if err != nil || abs <= 0 {
		return 0
	}
	return abs
}

// contentTokens attributes a token cost to one message. Model messages use
// recorded usage counters when available; user messages use a stored
// estimate if present. Everything else falls back to the local estimator.
func contentTokens(c Content, includeThoughts bool) int {
	if c.Role == RoleModel && c.Usage != nil {
		tokens := c.Usage.CandidateTokens
		if includeThoughts {
			tokens += c.Usage.ThoughtTokens
		}
		if tokens > 0 {
			return tokens
		}
	}
	if c.Role == RoleUser && c.TokenEstimate > 0 {
		return c.TokenEstimate
	}
	return EstimateContentTokens(c)
}

// EstimateContentTokens is the deterministic local estimator for one
// message.
func EstimateContentTokens(c Content) int {
	total := 0
	for _, p := range c.Parts {
		total += estimatePartTokens(p)
	}
	return total
}

func estimatePartTokens(p Part) int {
	switch {
	case p.InlineData != nil:
		return EstimateBlobTokens(*p.InlineData)
	case p.FunctionCall != nil:
		return estimateTextTokens(p.FunctionCall.Name) + estimateArgsTokens(p.FunctionCall.Args)
	case p.FunctionResponse != nil:
		n := estimateTextTokens(p.FunctionResponse.Name) + estimateArgsTokens(p.FunctionResponse.Response)
		for _, b := range p.FunctionResponse.Blobs {
			n += EstimateBlobTokens(b)
		}
		return n
	default:
		return estimateTextTokens(p.Text)
	}
}

// EstimateBlobTokens estimates a binary attachment's cost from its mime
// type: fixed for images, duration-derived for audio/video, page-derived
// for PDF-like documents, a conservative flat cost otherwise.
func EstimateBlobTokens(b Blob) int {
	mime := strings.ToLower(b.MIMEType)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return imageTokenCost
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/"):
		tokens := int(b.DurationSecs * audioTokensPerSecond)
		return clamp(tokens, mediaTokenFloor, mediaTokenCeiling)
	case mime == "application/pdf", strings.HasSuffix(mime, "+pdf"):
		pages := b.PageCount
		if pages <= 0 && len(b.Data) > 0 {
			pages = (len(b.Data) + pdfBytesPerPage - 1) / pdfBytesPerPage
		}
		return clamp(pages*pdfBytesPerPage/4, pdfTokenFloor, pdfTokenCeiling)
	case strings.HasPrefix(mime, "text/"):
		return estimateTextTokens(string(b.Data))
	default:
		return unknownBlobTokenCost
	}
}

func estimateArgsTokens(args map[string]any) int {
	if len(args) == 0 {
		return 0
	}
	n := 0
	for k, v := range args {
		n += estimateTextTokens(k)
		if s, ok := v.(string); ok {
			n += estimateTextTokens(s)
		} else {
			n += 4
		}
	}
	return n
}

// estimateTextTokens is the ceil(len/4) fallback estimator.
func estimateTextTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func countOrEstimate(ctx context.Context, counter TokenCounter, text string) int {
	if text == "" {
		return 0
	}
	if counter != nil {
		if n, err := counter.CountTokens(ctx, text); err == nil && n > 0 {
			return n
		}
	}
	return estimateTextTokens(text)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sliceAPIHistory maps a raw-history trim boundary proportionally onto the
// transport-ready history, then advances past any leading message that is
// not a genuine user message: the transport requires the first turn to be a
// real user message, never a tool result.
func sliceAPIHistory(history, apiHistory []Content, trimStart int) []Content {
	if trimStart <= 0 {
		return advanceToUser(apiHistory)
	}
	idx := trimStart * len(apiHistory) / len(history)
	if idx >= len(apiHistory) {
		idx = len(apiHistory) - 1
	}
	return advanceToUser(apiHistory[idx:])
}

func advanceToUser(slice []Content) []Content {
	for i, c := range slice {
		if c.Role == RoleUser && !c.IsFunctionResponse {
			return slice[i:]
		}
	}
	return slice
}
