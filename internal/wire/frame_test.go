package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader feeds its slices one Read at a time, simulating TCP reads
// that do not align with frame boundaries.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n == len(c.chunks[0]) {
		c.chunks = c.chunks[1:]
	} else {
		c.chunks[0] = c.chunks[0][n:]
	}
	return n, nil
}

func TestFramerSplitsAcrossReads(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "one frame one read",
			chunks: []string{"hello<END>"},
			want:   []string{"hello"},
		},
		{
			name:   "frame split mid payload",
			chunks: []string{"hel", "lo<END>"},
			want:   []string{"hello"},
		},
		{
			name:   "sentinel split across reads",
			chunks: []string{"hello<EN", "D>"},
			want:   []string{"hello"},
		},
		{
			name:   "two frames one read",
			chunks: []string{"a<END>b<END>"},
			want:   []string{"a", "b"},
		},
		{
			name:   "empty frame",
			chunks: []string{"<END>x<END>"},
			want:   []string{"", "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := make([][]byte, len(tt.chunks))
			for i, c := range tt.chunks {
				chunks[i] = []byte(c)
			}
			f := NewFramer(&chunkReader{chunks: chunks}, 0)
			for _, want := range tt.want {
				frame, err := f.ReadFrame()
				require.NoError(t, err)
				assert.Equal(t, want, string(frame))
			}
			_, err := f.ReadFrame()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestFramerPartialFrameAtClose(t *testing.T) {
	f := NewFramer(&chunkReader{chunks: [][]byte{[]byte("dangling")}}, 0)
	_, err := f.ReadFrame()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestFramerRejectsOversizedFrame(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 9000)
	f := NewFramer(&chunkReader{chunks: [][]byte{big}}, 8192)
	_, err := f.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrameAppendsSentinel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("payload")))
	assert.Equal(t, "payload<END>", buf.String())

	f := NewFramer(&buf, 0)
	frame, err := f.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(frame))
}
