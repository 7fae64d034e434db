package rtc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmisol/simple-relay/pkg/defs"
	"github.com/dmisol/simple-relay/pkg/media"
	"github.com/dmisol/simple-relay/pkg/rtphdr"
	"github.com/fasthttp/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	videoPT = 96
	audioPT = 111
)

func NewRoom(c *defs.Conf) (x *Room, err error) {
	x = &Room{
		Users:    map[int64]*User{},
		upgrader: websocket.FastHTTPUpgrader{},
		conf:     c,
	}

	m := webrtc.MediaEngine{}

	if err = m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, Channels: 0, SDPFmtpLine: "", RTCPFeedback: nil},
		PayloadType:        videoPT,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		err = errors.Wrap(err, "register video")
		return
	}
	if err = m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "", RTCPFeedback: nil},
		PayloadType:        audioPT,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		err = errors.Wrap(err, "register audio")
		return
	}

	x.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(&m),
	)
	return
}

type Room struct {
	mu       sync.Mutex
	Users    map[int64]*User // by [id]
	upgrader websocket.FastHTTPUpgrader
	api      *webrtc.API
	conf     *defs.Conf

	lastUid int64
}

// invite is called once both tracks of src deliver media
func (x *Room) invite(src int64) {
	x.forward(src)

	x.mu.Lock()
	defer x.mu.Unlock()

	for i, u := range x.Users {
		if i != src {
			u.Invite(src)
		}
	}
}

// forward attaches the configured UDP outputs to publisher src
func (x *Room) forward(src int64) {
	x.mu.Lock()
	u := x.Users[src]
	x.mu.Unlock()

	if u == nil {
		return
	}
	for i, f := range x.conf.Forward {
		rw := rtphdr.Rewriter{SSRC: forwardSSRC(f.SSRC, src)}
		if f.PayloadType != nil {
			rw.PayloadType, rw.RemapPayloadType = *f.PayloadType, true
		}
		s, err := media.NewUDPSink(f.Addr, rw)
		if err != nil {
			u.log().WithError(err).Warn("udp forward")
			continue
		}
		u.Add(forwardId(i), kindOf(f.Kind), s)
	}
}

// forwardSSRC keeps publishers sharing one forward address apart
func forwardSSRC(base uint32, src int64) uint32 {
	return base + uint32(src)
}

// sink ids of UDP forwards never clash with user ids
func forwardId(i int) int64 {
	return -int64(i + 1)
}

func kindOf(s string) webrtc.RTPCodecType {
	if s == webrtc.RTPCodecTypeAudio.String() {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func (x *Room) subscribe(pub int64, sub int64, kind webrtc.RTPCodecType, w defs.PacketWriter) {
	x.mu.Lock()
	defer x.mu.Unlock()

	u := x.Users[pub]
	if u == nil {
		logrus.WithFields(logrus.Fields{"publisher": pub, "user": sub}).Warn("can't subscribe")
		return
	}
	u.Add(sub, kind, w)
}

func (x *Room) keyFrame(pub int64, kind webrtc.RTPCodecType) {
	x.mu.Lock()
	u := x.Users[pub]
	x.mu.Unlock()

	if u != nil {
		u.KeyFrame(kind)
	}
}

func (x *Room) stop(uid int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for i, u := range x.Users {
		if i != uid {
			u.Del(uid)
		}
	}
	delete(x.Users, uid)
	logrus.WithField("user", uid).Info("user removed")
}

func (x *Room) Handler(r *fasthttp.RequestCtx) {
	uid := atomic.AddInt64(&x.lastUid, 1)
	user := NewUser(x.api, uid, x.hooks(), x.pliInterval())
	err := x.upgrader.Upgrade(r, user.Handler)
	if err != nil {
		logrus.WithError(err).Warn("upgrade")
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.Users[uid] = user
	logrus.WithField("user", uid).Info("user added")

	for i, u := range x.Users {
		if (i != uid) && u.Publisher() {
			go user.Invite(i)
		}
	}
}

func (x *Room) hooks() hooks {
	return hooks{
		inviteOthers: x.invite,
		subscribeTo:  x.subscribe,
		keyFrame:     x.keyFrame,
		stop:         x.stop,
	}
}

func (x *Room) pliInterval() (d time.Duration) {
	if x.conf.PliInterval != nil {
		d = *x.conf.PliInterval
	}
	return
}
