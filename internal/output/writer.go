package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bryanchriswhite/garp/internal/capture"
)

// Writer formats for WriterOutput.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// WriterOutput writes one line per frame to an io.Writer, either as JSON or
// as a short human-readable summary.
type WriterOutput struct {
	w      io.Writer
	format string

	mu      sync.Mutex
	running bool
	enc     *json.Encoder
}

// NewWriterOutput creates a WriterOutput. format is FormatJSON or FormatText.
func NewWriterOutput(w io.Writer, format string) (*WriterOutput, error) {
	switch format {
	case FormatJSON, FormatText:
	default:
		return nil, fmt.Errorf("unsupported format: %s (use 'json' or 'text')", format)
	}
	return &WriterOutput{w: w, format: format, enc: json.NewEncoder(w)}, nil
}

func (o *WriterOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = true
	return nil
}

func (o *WriterOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	return nil
}

func (o *WriterOutput) WriteFrame(f capture.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrNotRunning
	}

	if o.format == FormatJSON {
		return o.enc.Encode(f)
	}
	_, err := fmt.Fprintf(o.w, "#%d %dx%d %s accumulated=%d present=%d\n",
		f.Sequence, f.Width, f.Height, f.Format, f.AccumulatedFrames, f.PresentTime)
	return err
}

func (o *WriterOutput) Name() string { return o.format + " writer" }

func (o *WriterOutput) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}
