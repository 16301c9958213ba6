package chat

import "time"

// Chunk is one increment of model output from the transport. A terminal
// chunk carries Done plus any usage and model-version metadata.
type Chunk struct {
	Parts        []Part
	Done         bool
	Usage        *Usage
	ModelVersion string
	// Raw is the provider's own chunk payload, forwarded opaquely on
	// outbound chunk events for callers that want it.
	Raw any
}

// Accumulator folds one request's ordered chunk sequence into a single
// model message. One instance per outbound request. Content may be read at
// any time between increments, including after a cancellation, so partial
// output is never lost.
type Accumulator struct {
	start      time.Time
	firstChunk time.Time
	doneAt     time.Time

	parts        []Part
	usage        *Usage
	modelVersion string
	done         bool

	// thinking tracks the elapsed time from the first increment until the
	// last thought part seen.
	thinking time.Duration
}

// NewAccumulator starts accumulation for a request issued now.
func NewAccumulator() *Accumulator {
	return &Accumulator{start: time.Now()}
}

// Add folds one increment. Consecutive text parts of the same kind (both
// thought or both plain) are concatenated; everything else appends.
func (a *Accumulator) Add(ch Chunk) {
	now := time.Now()
	if a.firstChunk.IsZero() && (len(ch.Parts) > 0 || ch.Done) {
		a.firstChunk = now
	}

	for _, part := range ch.Parts {
		if part.IsText() && part.Thought {
			a.thinking = now.Sub(a.firstChunk)
		}
		if part.IsText() && len(a.parts) > 0 {
			last := &a.parts[len(a.parts)-1]
			if last.IsText() && last.Thought == part.Thought {
				last.Text += part.Text
				continue
			}
		}
		a.parts = append(a.parts, clonePart(part))
	}

	if ch.Usage != nil {
		u := *ch.Usage
		a.usage = &u
	}
	if ch.ModelVersion != "" {
		a.modelVersion = ch.ModelVersion
	}
	if ch.Done {
		a.done = true
		a.doneAt = now
	}
}

// Done reports whether the terminal increment has been seen.
func (a *Accumulator) Done() bool {
	return a.done
}

// Content returns the folded message accumulated so far. Safe to call
// repeatedly; the returned value is detached from later increments.
func (a *Accumulator) Content() Content {
	end := a.doneAt
	if end.IsZero() {
		end = time.Now()
	}
	c := Content{
		Role:         RoleModel,
		Parts:        clonePartSlice(a.parts),
		ModelVersion: a.modelVersion,
		Timestamp:    a.start,
		Duration:     end.Sub(a.start),
		ThinkingTime: a.thinking,
	}
	if a.usage != nil {
		u := *a.usage
		c.Usage = &u
	}
	return c
}
