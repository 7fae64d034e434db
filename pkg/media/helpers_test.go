package media

import (
	"io"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	kind webrtc.RTPCodecType
	pkts chan []byte
}

func newFakeReader(kind webrtc.RTPCodecType, pkts ...[]byte) *fakeReader {
	r := &fakeReader{kind: kind, pkts: make(chan []byte, len(pkts)+16)}
	for _, p := range pkts {
		r.pkts <- p
	}
	return r
}

func (f *fakeReader) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeReader) Read(b []byte) (int, interceptor.Attributes, error) {
	p, ok := <-f.pkts
	if !ok {
		return 0, nil, io.EOF
	}
	return copy(b, p), nil, nil
}

type fakeSink struct {
	mu     sync.Mutex
	pkts   [][]byte
	err    error
	closed bool
}

func (f *fakeSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	f.pkts = append(f.pkts, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pkts)
}

// fakeStream implements webrtc.TrackLocalWriter
type fakeStream struct {
	fakeSink
}

func (f *fakeStream) WriteRTP(h *rtp.Header, payload []byte) (int, error) {
	b, err := (&rtp.Packet{Header: *h, Payload: payload}).Marshal()
	if err != nil {
		return 0, err
	}
	return f.Write(b)
}

func rtpPacket(t *testing.T, pt uint8, seq uint16, ssrc uint32) []byte {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         seq%2 == 0,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 3000,
			SSRC:           ssrc,
		},
		Payload: []byte{0x01, 0x02, 0x03, byte(seq)},
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func parse(t *testing.T, b []byte) *rtp.Packet {
	p := &rtp.Packet{}
	require.NoError(t, p.Unmarshal(b))
	return p
}
