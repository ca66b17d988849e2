package transcript

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// Mode selects how segments are grouped into windows.
type Mode string

const (
	// ModeStrict assigns each segment to the window containing its start time.
	ModeStrict Mode = "strict"
	// ModeRolling accumulates text until a segment ends past the current
	// window boundary, then flushes. Trailing text becomes an unlabeled block.
	ModeRolling Mode = "rolling"
)

const (
	DefaultStrictWindow  = 60
	DefaultRollingWindow = 120
)

// Block is one rendered unit of the transcript. Unlabeled blocks only occur
// as the final leftover of a rolling aggregation.
type Block struct {
	Start   float64
	End     float64
	Text    string
	Labeled bool
}

// String renders the block without its trailing separator.
func (b Block) String() string {
	if !b.Labeled {
		return b.Text
	}
	return label(b.Start, b.End) + " " + b.Text
}

// Aggregator groups segments into fixed windows. It holds no state between
// calls and is safe for concurrent use.
type Aggregator struct {
	mode   Mode
	window float64
}

// NewAggregator validates mode and window. A window of zero selects the mode
// default.
func NewAggregator(mode Mode, windowSeconds int) (*Aggregator, error) {
	if windowSeconds < 0 {
		return nil, fmt.Errorf("window must be >= 0, got %d", windowSeconds)
	}
	switch mode {
	case ModeStrict:
		if windowSeconds == 0 {
			windowSeconds = DefaultStrictWindow
		}
	case ModeRolling:
		if windowSeconds == 0 {
			windowSeconds = DefaultRollingWindow
		}
	default:
		return nil, fmt.Errorf("unknown aggregation mode %q", mode)
	}
	return &Aggregator{mode: mode, window: float64(windowSeconds)}, nil
}

func (a *Aggregator) Mode() Mode { return a.mode }

func (a *Aggregator) Window() float64 { return a.window }

// Blocks groups segments into non-empty blocks in increasing time order.
func (a *Aggregator) Blocks(segments []Segment) []Block {
	if a.mode == ModeRolling {
		return rollingBlocks(segments, a.window)
	}
	return strictBlocks(segments, a.window)
}

// Aggregate returns the formatted transcript: every block followed by a blank
// line. Zero segments produce an empty string.
func (a *Aggregator) Aggregate(segments []Segment) string {
	return Render(a.Blocks(segments))
}

// Render joins blocks, terminating each with a blank line.
func Render(blocks []Block) string {
	var b strings.Builder
	for _, block := range blocks {
		b.WriteString(block.String())
		b.WriteString("\n\n")
	}
	return b.String()
}

func strictBlocks(segments []Segment, window float64) []Block {
	buckets := make(map[int][]string)
	for _, s := range segments {
		idx := bucketIndex(s.Start, window)
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		buckets[idx] = append(buckets[idx], text)
	}

	// Silent windows never have an entry, so gaps are skipped.
	var blocks []Block
	for _, idx := range slices.Sorted(maps.Keys(buckets)) {
		start := float64(idx) * window
		blocks = append(blocks, Block{
			Start:   start,
			End:     start + window,
			Text:    strings.Join(buckets[idx], " "),
			Labeled: true,
		})
	}
	return blocks
}

// maxBucket caps window indexes for start times beyond int range.
const maxBucket = math.MaxInt32

// bucketIndex clamps negative and NaN start times into the first window.
func bucketIndex(start, window float64) int {
	if !(start > 0) {
		return 0
	}
	idx := math.Floor(start / window)
	if idx >= maxBucket {
		return maxBucket
	}
	return int(idx)
}

func rollingBlocks(segments []Segment, window float64) []Block {
	var (
		blocks    []Block
		pending   []string
		threshold = window
	)
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			pending = append(pending, text)
		}
		if s.End < threshold {
			continue
		}
		if len(pending) > 0 {
			blocks = append(blocks, Block{
				Start:   threshold - window,
				End:     threshold,
				Text:    strings.Join(pending, " "),
				Labeled: true,
			})
			pending = nil
		}
		// Smallest window boundary strictly past this segment's end.
		threshold = (math.Floor(s.End/window) + 1) * window
	}
	if len(pending) > 0 {
		blocks = append(blocks, Block{Text: strings.Join(pending, " ")})
	}
	return blocks
}
