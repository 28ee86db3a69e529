package marstek

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"unicode/utf8"

	"github.com/pkg/errors"
)

var ErrPayloadSource = errors.New("provide exactly one of --json, --file, or --stdin")

// Source is where a user supplied payload comes from.
type Source interface {
	isSource()
}

type (
	// InlineSource is JSON text given on the command line.
	InlineSource struct{ Text string }
	// FileSource is a path to a file containing JSON.
	FileSource struct{ Path string }
	// StdinSource reads JSON from standard input.
	StdinSource struct{}
)

func (InlineSource) isSource() {}
func (FileSource) isSource()   {}
func (StdinSource) isSource()  {}

// ResolveSource picks the single selected payload source. Selecting none or
// more than one returns ErrPayloadSource.
func ResolveSource(inline *string, file *string, stdin bool) (Source, error) {
	var sources []Source
	if inline != nil {
		sources = append(sources, InlineSource{Text: *inline})
	}
	if file != nil {
		sources = append(sources, FileSource{Path: *file})
	}
	if stdin {
		sources = append(sources, StdinSource{})
	}

	if len(sources) != 1 {
		return nil, ErrPayloadSource
	}
	return sources[0], nil
}

// LoadPayload reads the source and returns it as a single JSON value.
// Reading stdin gives up when ctx is cancelled.
func LoadPayload(ctx context.Context, src Source, stdin io.Reader) (json.RawMessage, error) {
	var data []byte

	switch s := src.(type) {
	case InlineSource:
		data = []byte(s.Text)
	case FileSource:
		b, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, errors.Wrap(err, "reading payload file")
		}
		data = b
	case StdinSource:
		b, err := readAll(ctx, stdin)
		if err != nil {
			return nil, err
		}
		data = b
	default:
		return nil, ErrPayloadSource
	}

	if !utf8.Valid(data) {
		return nil, errors.New("payload is not valid UTF-8")
	}

	var v json.RawMessage
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "parsing payload")
	}
	return v, nil
}

// readAll reads r to EOF unless ctx ends first. The reader is left to the
// blocked goroutine, which only matters for stdin on the way to exit.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}

	done := make(chan readResult, 1)
	go func() {
		b, err := io.ReadAll(r)
		done <- readResult{data: b, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, errors.Wrap(res.err, "reading payload from stdin")
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
