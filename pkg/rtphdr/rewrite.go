// Package rtphdr edits fields of a raw RTP fixed header in place.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|V=2|P|X|  CC   |M|     PT      |       sequence number         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                           timestamp                           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|           synchronization source (SSRC) identifier            |
//	+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+=+
package rtphdr

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	HeaderSize = 12 // fixed part, no CSRC

	markerPtOffset = 1
	ssrcOffset     = 8

	markerMask = 0x80
	ptMask     = 0x7f
)

var ErrInvalidHeaderBuffer = errors.New("invalid rtp header buffer")

// Check returns an error unless the first length bytes of b can hold a fixed header.
// length is clamped to len(b).
func Check(b []byte, length int) error {
	n := length
	if n > len(b) {
		n = len(b)
	}
	if n < HeaderSize {
		return errors.Wrapf(ErrInvalidHeaderBuffer, "%d bytes available, %d needed", n, HeaderSize)
	}
	return nil
}

// RewriteSSRC overwrites the SSRC of the header at the start of b.
// Nothing is written when it fails.
func RewriteSSRC(b []byte, length int, ssrc uint32) (err error) {
	if err = Check(b, length); err != nil {
		return
	}
	binary.BigEndian.PutUint32(b[ssrcOffset:], ssrc)
	return
}

// RewritePayloadType overwrites the 7-bit payload type, keeping the marker bit.
// Only the low 7 bits of pt are used.
func RewritePayloadType(b []byte, length int, pt uint8) (err error) {
	if err = Check(b, length); err != nil {
		return
	}
	b[markerPtOffset] = b[markerPtOffset]&markerMask | pt&ptMask
	return
}

func SSRC(b []byte, length int) (ssrc uint32, err error) {
	if err = Check(b, length); err != nil {
		return
	}
	ssrc = binary.BigEndian.Uint32(b[ssrcOffset:])
	return
}

func PayloadType(b []byte, length int) (pt uint8, err error) {
	if err = Check(b, length); err != nil {
		return
	}
	pt = b[markerPtOffset] & ptMask
	return
}

func Marker(b []byte, length int) (m bool, err error) {
	if err = Check(b, length); err != nil {
		return
	}
	m = b[markerPtOffset]&markerMask != 0
	return
}

// Rewriter holds the header values of one outgoing stream.
type Rewriter struct {
	SSRC             uint32
	PayloadType      uint8
	RemapPayloadType bool // keep the incoming payload type when false
}

// Rewrite applies r to the header at the start of b. Either every field is
// written or, on error, none is.
func (r Rewriter) Rewrite(b []byte, length int) (err error) {
	if err = Check(b, length); err != nil {
		return
	}
	binary.BigEndian.PutUint32(b[ssrcOffset:], r.SSRC)
	if r.RemapPayloadType {
		b[markerPtOffset] = b[markerPtOffset]&markerMask | r.PayloadType&ptMask
	}
	return
}
