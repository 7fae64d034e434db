package media

import (
	"strings"
	"sync"

	"github.com/dmisol/simple-relay/pkg/rtphdr"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

var _ webrtc.TrackLocal = (*RelayTrack)(nil)

type relayBinding struct {
	id  string
	rw  rtphdr.Rewriter
	ws  webrtc.TrackLocalWriter
	buf []byte
}

// RelayTrack is a webrtc.TrackLocal fed with raw RTP packets of another track.
// Every packet is stamped with the SSRC and payload type negotiated for each binding.
type RelayTrack struct {
	mu           sync.Mutex
	bindings     []*relayBinding
	codec        webrtc.RTPCodecCapability
	id, streamID string
}

func NewRelayTrack(c webrtc.RTPCodecCapability, id, streamID string) *RelayTrack {
	return &RelayTrack{
		codec:    c,
		id:       id,
		streamID: streamID,
	}
}

func (s *RelayTrack) Bind(t webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, codec := range t.CodecParameters() {
		if !strings.EqualFold(codec.MimeType, s.codec.MimeType) {
			continue
		}
		s.bindings = append(s.bindings, &relayBinding{
			id: t.ID(),
			rw: rtphdr.Rewriter{
				SSRC:             uint32(t.SSRC()),
				PayloadType:      uint8(codec.PayloadType),
				RemapPayloadType: true,
			},
			ws:  t.WriteStream(),
			buf: make([]byte, 0, maxPacketSize),
		})
		return codec, nil
	}
	return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
}

func (s *RelayTrack) Unbind(t webrtc.TrackLocalContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.bindings {
		if s.bindings[i].id == t.ID() {
			s.bindings[i] = s.bindings[len(s.bindings)-1]
			s.bindings = s.bindings[:len(s.bindings)-1]
			return nil
		}
	}
	return webrtc.ErrUnbindFailed
}

func (s *RelayTrack) ID() string       { return s.id }
func (s *RelayTrack) StreamID() string { return s.streamID }
func (s *RelayTrack) RID() string      { return "" }

func (s *RelayTrack) Kind() webrtc.RTPCodecType {
	switch {
	case strings.HasPrefix(s.codec.MimeType, "audio/"):
		return webrtc.RTPCodecTypeAudio
	case strings.HasPrefix(s.codec.MimeType, "video/"):
		return webrtc.RTPCodecTypeVideo
	default:
		return webrtc.RTPCodecType(0)
	}
}

// Write sends a copy of p to every binding. p itself is left untouched.
// A packet too short for an RTP header is rejected with rtphdr.ErrInvalidHeaderBuffer.
func (s *RelayTrack) Write(p []byte) (n int, err error) {
	if _, err = rtphdr.SSRC(p, len(p)); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []string
	var last error
	for _, b := range s.bindings {
		b.buf = append(b.buf[:0], p...)
		if rerr := b.rw.Rewrite(b.buf, len(b.buf)); rerr != nil {
			return n, rerr
		}
		if _, werr := b.ws.Write(b.buf); werr != nil {
			failed = append(failed, b.id)
			last = werr
		}
	}
	n = len(p)
	if len(failed) > 0 {
		err = errors.Wrapf(last, "bindings %s", strings.Join(failed, ","))
	}
	return
}
