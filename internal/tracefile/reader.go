package tracefile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
)

// Reader decodes the events of an artifact.
type Reader struct {
	r    *bufio.Reader
	line int
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF after the last complete line
// and io.ErrUnexpectedEOF when the input ends in the middle of a line, which
// is what an artifact still being written or torn by a crash looks like.
func (r *Reader) Next() (Event, error) {
	for {
		b, err := r.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(b)) > 0 {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		r.line++

		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}

		var ev Event
		if err := sonic.Unmarshal(b, &ev); err != nil {
			return Event{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ev, nil
	}
}

// ReadAll decodes events until the end of the input. The events decoded
// before an error are returned along with it.
func (r *Reader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, ev)
	}
}

// ReadFile decodes all events of the artifact at path.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return NewReader(f).ReadAll()
}
