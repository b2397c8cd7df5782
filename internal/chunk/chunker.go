// Package chunk splits document bodies into retrievable units.
//
// Small documents index as a single chunk; large ones use an overlapping
// sliding window so queries can match passages rather than whole notes.
package chunk

// Chunking defaults, in characters.
const (
	// DefaultThreshold is the body length below which a document stays
	// a single chunk.
	DefaultThreshold = 4000

	// DefaultSize is the sliding window size.
	DefaultSize = 2000

	// DefaultOverlap is the overlap between consecutive windows.
	DefaultOverlap = 400
)

// Chunk is a contiguous substring of a document body.
type Chunk struct {
	FilePath      string
	ChunkIndex    int // 0-based
	ChunkTotal    int
	StartOffset   int
	EndOffset     int
	Content       string
	Metadata      map[string]any // inherited from the document
	IsChunkedFile bool
}

// Params configures the chunker.
type Params struct {
	// Threshold is the body length at or above which chunking kicks in.
	Threshold int
	// Size is the sliding window size.
	Size int
	// Overlap is the overlap between consecutive chunks.
	Overlap int
	// Enabled set to false turns sliding-window chunking off entirely (whole documents
	// index as single chunks regardless of size).
	Enabled bool
}

// DefaultParams returns the default chunking parameters.
func DefaultParams() Params {
	return Params{
		Threshold: DefaultThreshold,
		Size:      DefaultSize,
		Overlap:   DefaultOverlap,
		Enabled:   true,
	}
}

func (p Params) normalized() Params {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Size <= 0 {
		p.Size = DefaultSize
	}
	if p.Overlap < 0 || p.Overlap >= p.Size {
		p.Overlap = DefaultOverlap
		if p.Overlap >= p.Size {
			p.Overlap = p.Size / 5
		}
	}
	return p
}

// Split divides body into chunks per the window parameters.
//
// Invariants: chunk indices are consecutive from 0, ChunkTotal equals the
// emitted count, every byte of body is covered by at least one chunk, and
// overlap between consecutive chunks is at most p.Overlap except for the
// final chunk when a short tail was merged into it.
func Split(filePath, body string, metadata map[string]any, p Params) []*Chunk {
	p = p.normalized()

	if !p.Enabled || len(body) < p.Threshold {
		return []*Chunk{{
			FilePath:    filePath,
			ChunkIndex:  0,
			ChunkTotal:  1,
			StartOffset: 0,
			EndOffset:   len(body),
			Content:     body,
			Metadata:    metadata,
		}}
	}

	step := p.Size - p.Overlap
	var chunks []*Chunk
	for start := 0; start < len(body); start += step {
		end := start + p.Size
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, &Chunk{
			FilePath:      filePath,
			ChunkIndex:    len(chunks),
			StartOffset:   start,
			EndOffset:     end,
			Content:       body[start:end],
			Metadata:      metadata,
			IsChunkedFile: true,
		})
		if end == len(body) {
			break
		}
	}

	// Merge a short tail into its predecessor rather than emitting a
	// fragment too small to stand alone.
	if len(chunks) > 1 {
		last := chunks[len(chunks)-1]
		if last.EndOffset-last.StartOffset < p.Size/2 {
			prev := chunks[len(chunks)-2]
			prev.EndOffset = last.EndOffset
			prev.Content = body[prev.StartOffset:prev.EndOffset]
			chunks = chunks[:len(chunks)-1]
		}
	}

	for _, c := range chunks {
		c.ChunkTotal = len(chunks)
	}
	return chunks
}
