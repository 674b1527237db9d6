package probe

import (
	"context"
	"errors"
	"fmt"
)

// EBML element IDs, marker bits included.
const (
	idEBML        = 0x1A45DFA3
	idDocType     = 0x4282
	idSegment     = 0x18538067
	idTracks      = 0x1654AE6B
	idTrackEntry  = 0xAE
	idTrackType   = 0x83
	idVideo       = 0xE0
	idPixelWidth  = 0xB0
	idPixelHeight = 0xBA
	idCluster     = 0x1F43B675

	trackTypeVideo = 1
)

var (
	errMalformed   = errors.New("malformed EBML")
	errNotMatroska = errors.New("not a WebM or Matroska stream")
	errClusters    = errors.New("reached media clusters before any video track")
)

// WebM reads PixelWidth and PixelHeight of the first video track straight
// from the Matroska header, without decoding any frames.
type WebM struct{}

func (WebM) Probe(ctx context.Context, blob []byte) (Dimensions, error) {
	if err := ctx.Err(); err != nil {
		return Dimensions{}, err
	}
	d, err := parseWebM(blob)
	if err != nil {
		return Dimensions{}, fmt.Errorf("webm: %w: %w", ErrNoDimensions, err)
	}
	return d, nil
}

type element struct {
	id      uint32
	data    []byte
	unknown bool
	// next is the offset just past the element in its parent.
	next int
}

// readVint decodes a variable length integer at b[off:]. With keepMarker the
// length marker stays in the value, which is how element IDs are written.
func readVint(b []byte, off int, keepMarker bool) (uint64, int, error) {
	if off >= len(b) {
		return 0, 0, errMalformed
	}
	first := b[off]
	n := 1
	for mask := byte(0x80); n <= 8 && first&mask == 0; mask >>= 1 {
		n++
	}
	if n > 8 || off+n > len(b) {
		return 0, 0, errMalformed
	}
	v := uint64(first)
	if !keepMarker {
		v &= uint64(0xFF >> n)
	}
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[off+i])
	}
	return v, n, nil
}

func readElement(b []byte, off int) (element, error) {
	id, n, err := readVint(b, off, true)
	if err != nil {
		return element{}, err
	}
	off += n
	size, n, err := readVint(b, off, false)
	if err != nil {
		return element{}, err
	}
	// All value bits set means the size is unknown.
	unknown := size == (uint64(1)<<(7*n))-1
	off += n

	end := len(b)
	if !unknown {
		if size > uint64(len(b)-off) {
			// Truncated; keep what is there so headers of short blobs still parse.
			size = uint64(len(b) - off)
		}
		end = off + int(size)
	}
	return element{id: uint32(id), data: b[off:end], unknown: unknown, next: end}, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// pixels reads a pixel count, saturating just above MaxDimension so huge
// values cannot wrap into range.
func pixels(b []byte) int {
	return int(min(readUint(b), MaxDimension+1))
}

func parseWebM(b []byte) (Dimensions, error) {
	head, err := readElement(b, 0)
	if err != nil {
		return Dimensions{}, err
	}
	if head.id != idEBML {
		return Dimensions{}, errNotMatroska
	}
	if err := checkDocType(head.data); err != nil {
		return Dimensions{}, err
	}

	for off := head.next; off < len(b); {
		el, err := readElement(b, off)
		if err != nil {
			return Dimensions{}, err
		}
		if el.id == idSegment {
			return scanSegment(el.data)
		}
		off = el.next
	}
	return Dimensions{}, errors.New("no segment")
}

func checkDocType(header []byte) error {
	for off := 0; off < len(header); {
		el, err := readElement(header, off)
		if err != nil {
			return err
		}
		if el.id == idDocType {
			switch string(el.data) {
			case "webm", "matroska":
				return nil
			default:
				return fmt.Errorf("%w: doctype %q", errNotMatroska, el.data)
			}
		}
		off = el.next
	}
	// DocType defaults to matroska.
	return nil
}

func scanSegment(seg []byte) (Dimensions, error) {
	for off := 0; off < len(seg); {
		el, err := readElement(seg, off)
		if err != nil {
			return Dimensions{}, err
		}
		switch el.id {
		case idTracks:
			return scanTracks(el.data)
		case idCluster:
			return Dimensions{}, errClusters
		}
		if el.unknown {
			return Dimensions{}, fmt.Errorf("%w: unknown-size element 0x%X", errMalformed, el.id)
		}
		off = el.next
	}
	return Dimensions{}, errors.New("no tracks")
}

func scanTracks(tracks []byte) (Dimensions, error) {
	for off := 0; off < len(tracks); {
		el, err := readElement(tracks, off)
		if err != nil {
			return Dimensions{}, err
		}
		if el.id == idTrackEntry {
			if d, ok := videoTrack(el.data); ok {
				return d, nil
			}
		}
		off = el.next
	}
	return Dimensions{}, errors.New("no video track")
}

func videoTrack(entry []byte) (Dimensions, bool) {
	var (
		d         Dimensions
		trackType uint64
	)
	for off := 0; off < len(entry); {
		el, err := readElement(entry, off)
		if err != nil {
			break
		}
		switch el.id {
		case idTrackType:
			trackType = readUint(el.data)
		case idVideo:
			for voff := 0; voff < len(el.data); {
				v, err := readElement(el.data, voff)
				if err != nil {
					break
				}
				switch v.id {
				case idPixelWidth:
					d.Width = pixels(v.data)
				case idPixelHeight:
					d.Height = pixels(v.data)
				}
				voff = v.next
			}
		}
		off = el.next
	}
	if trackType != 0 && trackType != trackTypeVideo {
		return Dimensions{}, false
	}
	return d, d.Valid()
}
