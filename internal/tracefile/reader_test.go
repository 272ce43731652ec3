package tracefile

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderTornLine(t *testing.T) {
	input := `{"seq":1,"time":"2024-01-02T03:04:05Z","kind":"marker","marker":"started"}
{"seq":2,"time":"2024-01-02T03:04:05Z","kind":"response-body","data":"aGk=","length":2}
{"seq":3,"time":"2024-01-02T03:04:05Z","kind":"resp`

	events, err := NewReader(strings.NewReader(input)).ReadAll()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Len(t, events, 2)
	assert.Equal(t, []byte("hi"), Payload(events, KindResponseBody))
}

func TestReaderSkipsBlankLines(t *testing.T) {
	input := "\n" + `{"seq":1,"time":"2024-01-02T03:04:05Z","kind":"marker","marker":"closed"}` + "\n\n"

	events, err := NewReader(strings.NewReader(input)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Marker{MarkerClosed}, Markers(events))
}

func TestReaderBadLine(t *testing.T) {
	input := `{"seq":1,"time":"2024-01-02T03:04:05Z","kind":"marker","marker":"started"}
not json
`
	r := NewReader(strings.NewReader(input))

	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRequestBodyEnd(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "clean end", err: io.EOF, want: ""},
		{name: "nil", err: nil, want: ""},
		{name: "fault", err: io.ErrUnexpectedEOF, want: "unexpected EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := RequestBodyEnd(tt.err)
			assert.Equal(t, KindRequestBodyEnd, ev.Kind)
			assert.Equal(t, tt.want, ev.Error)
		})
	}
}
