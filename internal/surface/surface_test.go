package surface

import (
	"bytes"
	"testing"
	"time"

	"dashie_cam/native/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initSegment() []byte {
	return append([]byte{0, 0, 0, 16}, []byte("ftypisom\x00\x00\x00\x00")...)
}

func mediaSegment(n int) []byte {
	b := append([]byte{0, 0, 0, 8}, []byte("moof")...)
	return append(b, bytes.Repeat([]byte{0xAB}, n)...)
}

func TestSink_ExclusiveClaim(t *testing.T) {
	var out bytes.Buffer
	s := NewSink(&out)

	w1, err := s.Claim("player-1")
	require.NoError(t, err)

	_, err = s.Claim("player-2")
	assert.ErrorIs(t, err, domain.ErrSurfaceBusy)

	_, err = w1.Write([]byte("a"))
	require.NoError(t, err)

	s.Release("player-2")
	assert.Equal(t, "player-1", s.Owner())

	s.Release("player-1")
	_, err = w1.Write([]byte("b"))
	assert.ErrorIs(t, err, ErrReleased)

	w2, err := s.Claim("player-2")
	require.NoError(t, err)
	_, err = w2.Write([]byte("c"))
	require.NoError(t, err)

	assert.Equal(t, "ac", out.String())
	assert.Equal(t, 2, s.Claims())
}

func TestBuffer_RequiresInitFirst(t *testing.T) {
	b := NewBuffer(&bytes.Buffer{})
	require.NoError(t, b.SetMimeType(`video/mp4; codecs="avc1.640029"`))

	assert.ErrorIs(t, <-b.Append(mediaSegment(4)), ErrNoInit)
	require.NoError(t, <-b.Append(initSegment()))
	require.NoError(t, <-b.Append(mediaSegment(4)))
	assert.Equal(t, time.Second, b.CurrentTime())
}

func TestBuffer_RejectsWithoutMimeType(t *testing.T) {
	b := NewBuffer(&bytes.Buffer{})
	assert.ErrorIs(t, <-b.Append(initSegment()), ErrMimeTypeMissing)
}

func TestBuffer_QuotaAndRemove(t *testing.T) {
	b := NewBuffer(&bytes.Buffer{}, WithQuota(90))
	require.NoError(t, b.SetMimeType("video/mp4"))
	require.NoError(t, <-b.Append(initSegment()))

	for i := 0; i < 4; i++ {
		require.NoError(t, <-b.Append(mediaSegment(12)))
	}
	assert.Equal(t, 80, b.Retained())
	assert.ErrorIs(t, <-b.Append(mediaSegment(12)), domain.ErrQuotaExceeded)

	require.NoError(t, <-b.Remove(0, 2*time.Second))
	assert.Equal(t, 40, b.Retained())
	require.NoError(t, <-b.Append(mediaSegment(12)))
}

func TestBuffer_ResetClearsState(t *testing.T) {
	b := NewBuffer(&bytes.Buffer{})
	require.NoError(t, b.SetMimeType("video/mp4"))
	require.NoError(t, <-b.Append(initSegment()))
	require.NoError(t, <-b.Append(mediaSegment(1)))

	b.Reset()
	assert.Zero(t, b.CurrentTime())
	assert.ErrorIs(t, <-b.Append(initSegment()), ErrMimeTypeMissing)
}

func TestIsInitSegment(t *testing.T) {
	assert.True(t, IsInitSegment(initSegment()))
	assert.True(t, IsInitSegment(append([]byte{0, 0, 0, 8}, []byte("moov")...)))
	assert.False(t, IsInitSegment(mediaSegment(0)))
	assert.False(t, IsInitSegment([]byte("ftyp")))
}

func TestPlaceholder_KeepsLatestChange(t *testing.T) {
	p := NewPlaceholder(domain.Rect{Width: 320, Height: 180})
	p.Move(domain.Rect{X: 10, Width: 320, Height: 180})
	p.Move(domain.Rect{X: 20, Width: 320, Height: 180})

	got := <-p.Changes()
	assert.Equal(t, 20.0, got.X)
	assert.Equal(t, got, p.Rect())

	p.Close()
	_, ok := <-p.Changes()
	assert.False(t, ok)
	p.Move(domain.Rect{X: 30})
	assert.Equal(t, 20.0, p.Rect().X)
}
