package probe

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const idInfo = 0x1549A966

func ebmlID(id uint32) []byte {
	switch {
	case id > 0xFFFFFF:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFF:
		return []byte{byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id)}
	}
}

// el encodes a sized element using an 8-byte size field.
func el(id uint32, children ...[]byte) []byte {
	var payload []byte
	for _, c := range children {
		payload = append(payload, c...)
	}
	size := make([]byte, 8)
	binary.BigEndian.PutUint64(size, uint64(len(payload)))
	size[0] = 0x01
	out := append(ebmlID(id), size...)
	return append(out, payload...)
}

// unsized encodes a master element with unknown size.
func unsized(id uint32, children ...[]byte) []byte {
	out := append(ebmlID(id), 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	for _, c := range children {
		out = append(out, c...)
	}
	return out
}

func uintEl(id uint32, v uint64) []byte {
	// Short one-byte size field, as real muxers write it.
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	i := 0
	for i < 7 && b[i] == 0 {
		i++
	}
	payload := b[i:]
	out := append(ebmlID(id), 0x80|byte(len(payload)))
	return append(out, payload...)
}

func strEl(id uint32, s string) []byte {
	out := append(ebmlID(id), 0x80|byte(len(s)))
	return append(out, s...)
}

func header(docType string) []byte {
	return el(idEBML, uintEl(0x4286, 1), strEl(idDocType, docType))
}

func videoEntry(w, h uint64) []byte {
	return el(idTrackEntry,
		uintEl(0xD7, 1),
		uintEl(idTrackType, trackTypeVideo),
		el(idVideo, uintEl(idPixelWidth, w), uintEl(idPixelHeight, h)),
	)
}

func audioEntry() []byte {
	return el(idTrackEntry, uintEl(0xD7, 2), uintEl(idTrackType, 2))
}

func TestWebM_SizedSegment(t *testing.T) {
	blob := append(header("webm"), el(idSegment,
		el(idInfo, uintEl(0x2AD7B1, 1000000)),
		el(idTracks, audioEntry(), videoEntry(1000, 800)),
		el(idCluster, uintEl(0xE7, 0)),
	)...)

	d, err := WebM{}.Probe(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: 1000, Height: 800}, d)
}

func TestWebM_LiveStreamUnknownSizes(t *testing.T) {
	// Live recorders write Segment and Cluster with unknown size.
	blob := append(header("webm"), unsized(idSegment,
		el(idInfo),
		el(idTracks, videoEntry(1920, 1080)),
		unsized(idCluster, uintEl(0xE7, 0)),
	)...)

	d, err := WebM{}.Probe(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: 1920, Height: 1080}, d)
}

func TestWebM_TruncatedAfterTracks(t *testing.T) {
	blob := append(header("matroska"), el(idSegment,
		el(idTracks, videoEntry(640, 480)),
		el(idCluster, make([]byte, 64)),
	)...)
	blob = blob[:len(blob)-40]

	d, err := WebM{}.Probe(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: 640, Height: 480}, d)
}

func TestWebM_Failures(t *testing.T) {
	cases := map[string][]byte{
		"empty":          nil,
		"garbage":        []byte("definitely not a video"),
		"wrong doctype":  append(header("avi"), el(idSegment, el(idTracks, videoEntry(1, 1)))...),
		"cluster first":  append(header("webm"), unsized(idSegment, unsized(idCluster), el(idTracks, videoEntry(2, 2)))...),
		"audio only":     append(header("webm"), el(idSegment, el(idTracks, audioEntry()))...),
		"zero width":     append(header("webm"), el(idSegment, el(idTracks, videoEntry(0, 10)))...),
		"too wide":       append(header("webm"), el(idSegment, el(idTracks, videoEntry(MaxDimension+1, 10)))...),
		"huge":           append(header("webm"), el(idSegment, el(idTracks, videoEntry(1<<40, 1<<40)))...),
		"wraps negative": append(header("webm"), el(idSegment, el(idTracks, videoEntry(1<<63, 10)))...),
		"missing header": el(idSegment, el(idTracks, videoEntry(10, 10))),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := WebM{}.Probe(context.Background(), blob)
			assert.ErrorIs(t, err, ErrNoDimensions)
		})
	}
}

func TestWebM_AcceptsMaxDimension(t *testing.T) {
	blob := append(header("webm"), el(idSegment, el(idTracks, videoEntry(MaxDimension, MaxDimension)))...)
	d, err := WebM{}.Probe(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: MaxDimension, Height: MaxDimension}, d)
}

func TestReadVint(t *testing.T) {
	v, n, err := readVint([]byte{0x81}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, 1, n)

	v, n, err = readVint([]byte{0x40, 0x02}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, 2, n)

	v, _, err = readVint([]byte{0x1A, 0x45, 0xDF, 0xA3}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(idEBML), v)

	_, _, err = readVint([]byte{0x00}, 0, false)
	assert.ErrorIs(t, err, errMalformed)
	_, _, err = readVint([]byte{0x40}, 0, false)
	assert.ErrorIs(t, err, errMalformed)
}
