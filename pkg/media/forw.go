package media

import (
	"sync"

	"github.com/dmisol/simple-relay/pkg/defs"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var _ defs.Media = (*MediaCloner)(nil)

func NewCloner(srcId int64, welcome func(), stop func(), pli func(ssrc uint32) error) (mr *MediaCloner) {
	mr = &MediaCloner{
		id:      srcId,
		welcome: welcome,
		stop:    stop,
		pli:     pli,
	}
	return
}

// MediaCloner forwards the audio and video of one publisher.
type MediaCloner struct {
	id   int64
	mu   sync.Mutex
	a, v *TrackReplicator //[kind]

	ssrcA, ssrcV uint32
	flowing      int
	welcomed     bool

	welcome func()
	stop    func()
	pli     func(ssrc uint32) error
}

func (r *MediaCloner) Replicate(t *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	r.replicate(t, uint32(t.SSRC()))
}

func (r *MediaCloner) replicate(src defs.PacketReader, ssrc uint32) {
	tr := NewTrackReplicator(r.id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if src.Kind() == webrtc.RTPCodecTypeAudio {
		r.a, r.ssrcA = tr, ssrc
	} else {
		r.v, r.ssrcV = tr, ssrc
	}
	go tr.Run(src, r.stop, r.onFlowing)
}

// welcome others once both kinds deliver packets
func (r *MediaCloner) onFlowing() {
	r.mu.Lock()
	r.flowing++
	ready := r.flowing == 2 && !r.welcomed
	if ready {
		r.welcomed = true
	}
	r.mu.Unlock()

	if ready && r.welcome != nil {
		go r.welcome()
	}
}

func (r *MediaCloner) Add(id int64, kind webrtc.RTPCodecType, w defs.PacketWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tr := r.track(kind); tr != nil {
		tr.Add(id, w)
		return
	}
	r.log().WithFields(logrus.Fields{"sink": id, "kind": kind.String()}).Warn("can't add track of given kind")
}

func (r *MediaCloner) Del(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tr := range []*TrackReplicator{r.a, r.v} {
		if tr != nil {
			tr.Del(id)
		}
	}
}

// Pli asks the publisher for a key frame on the track of given kind.
func (r *MediaCloner) Pli(kind webrtc.RTPCodecType) {
	r.mu.Lock()
	ssrc, ok := r.ssrcV, r.v != nil
	if kind == webrtc.RTPCodecTypeAudio {
		ssrc, ok = r.ssrcA, r.a != nil
	}
	r.mu.Unlock()

	if !ok || r.pli == nil {
		return
	}
	if err := r.pli(ssrc); err != nil {
		r.log().WithError(err).Warn("pli")
	}
}

// track expects r.mu held
func (r *MediaCloner) track(kind webrtc.RTPCodecType) *TrackReplicator {
	if kind == webrtc.RTPCodecTypeAudio {
		return r.a
	}
	return r.v
}

func (r *MediaCloner) log() *logrus.Entry {
	return logrus.WithField("publisher", r.id)
}
