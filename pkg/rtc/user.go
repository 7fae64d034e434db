package rtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmisol/simple-relay/pkg/defs"
	"github.com/dmisol/simple-relay/pkg/media"
	"github.com/fasthttp/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// hooks lead back to the room
type hooks struct {
	inviteOthers func(int64)
	subscribeTo  func(p int64, s int64, kind webrtc.RTPCodecType, w defs.PacketWriter)
	keyFrame     func(p int64, kind webrtc.RTPCodecType)
	stop         func(int64)
}

func NewUser(api *webrtc.API, id int64, h hooks, pliInterval time.Duration) (u *User) {
	u = &User{
		Id:          id,
		hooks:       h,
		wsChan:      make(chan []byte, 5), // to invite the given user to subscribe publisher[id]
		done:        make(chan struct{}),
		api:         api,
		pliInterval: pliInterval,
	}

	return
}

type User struct {
	mu   sync.Mutex
	Id   int64
	conn *websocket.Conn // a way to stop everything

	hooks

	api         *webrtc.API
	wsChan      chan []byte
	done        chan struct{}
	rep         defs.Media
	pliInterval time.Duration

	publisher int32

	pc []*webrtc.PeerConnection
}

func (u *User) Publisher() bool {
	return (atomic.LoadInt32(&u.publisher) > 0)
}

func (u *User) Invite(id int64) {
	u.send(&defs.WsPload{
		Action: defs.ActInvite,
		Id:     id,
	})
}

func (u *User) Add(id int64, kind webrtc.RTPCodecType, w defs.PacketWriter) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.rep == nil {
		u.log().Warn("can't add: replicator not started")
		return
	}
	u.rep.Add(id, kind, w)
}

// Del forgets user id, which has left the room
func (u *User) Del(id int64) {
	u.mu.Lock()
	if u.rep != nil {
		u.rep.Del(id)
	}
	u.mu.Unlock()

	u.send(&defs.WsPload{
		Action: defs.ActDelete,
		Id:     id,
	})
}

func (u *User) KeyFrame(kind webrtc.RTPCodecType) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.rep != nil {
		u.rep.Pli(kind)
	}
}

func (u *User) send(pl *defs.WsPload) {
	b, err := json.Marshal(pl)
	if err != nil {
		u.log().WithError(err).WithField("action", pl.Action).Warn("can't marshal ws payload")
		return
	}
	go func() { // to avoid blocking
		select {
		case u.wsChan <- b:
		case <-u.done:
		}
	}()
}

func (u *User) Handler(conn *websocket.Conn) {
	defer u.stop(u.Id)
	defer u.close()

	u.conn = conn
	defer u.conn.Close()

	go u.wrHandler()

	for {
		_, msg, err := u.conn.ReadMessage()
		if err != nil {
			u.log().WithError(err).Info("ws read")
			return
		}

		if err = u.process(msg); err != nil {
			u.log().WithError(err).Warn("ws data")
			return
		}
	}
}

func (u *User) close() {
	close(u.done)

	u.mu.Lock()
	defer u.mu.Unlock()

	for _, pc := range u.pc {
		if err := pc.Close(); err != nil {
			u.log().WithError(err).Debug("pc close")
		}
	}
	u.pc = nil
}

func (u *User) wrHandler() {
	defer u.conn.Close()

	for {
		select {
		case <-u.done:
			return
		case b := <-u.wsChan:
			if err := u.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				u.log().WithError(err).Info("ws write")
				return
			}
		}
	}
}

func (u *User) process(p []byte) (err error) {
	var r map[string]interface{}

	if err = json.Unmarshal(p, &r); err != nil {
		err = errors.Wrap(err, "unmarshal")
		return
	}
	action, ok := r["action"].(string)
	if !ok {
		err = errors.New("json incomplete, action")
		return
	}

	if r["data"] == nil {
		err = errors.New("json incomplete, data " + action)
		return
	}
	data, err := json.Marshal(r["data"])
	if err != nil {
		err = errors.Wrap(err, "data marshal")
		return
	}
	switch action {
	case defs.ActPublish:
		go u.negotiatePublisher(data)
	case defs.ActSubscribe:
		id, ok := r["id"].(float64)
		if !ok {
			err = errors.New("json incomplete, id " + action)
			return
		}
		go u.negotiateSubscriber(int64(id), data)
	default:
		err = errors.New(fmt.Sprint("unexpected ws cmd ", string(p)))
	}
	return
}

func (u *User) log() *logrus.Entry {
	return logrus.WithField("user", u.Id)
}

func (u *User) fail(step string, err error) {
	u.log().WithError(err).Warn(step)
	u.conn.Close()
}

func (u *User) negotiatePublisher(data []byte) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		u.fail("pub offer unmarshal", err)
		return
	}

	pc, err := u.api.NewPeerConnection(webrtc.Configuration{SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback})
	if err != nil {
		u.fail("pub peerconn", err)
		return
	}

	r := media.NewCloner(u.Id,
		u.welcomed,
		func() { u.conn.Close() },
		func(ssrc uint32) error {
			return pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
		},
	)

	u.mu.Lock()
	u.rep = r
	u.pc = append(u.pc, pc)
	u.mu.Unlock()

	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		u.fail("pub add audio trx", err)
		return
	}
	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		u.fail("pub add video trx", err)
		return
	}

	pc.OnTrack(func(t *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		u.log().WithFields(logrus.Fields{"kind": t.Kind().String(), "ssrc": t.SSRC(), "codec": t.Codec().MimeType}).Info("track")

		if u.pliInterval > 0 && t.Kind() == webrtc.RTPCodecTypeVideo {
			go u.pliLoop(pc, uint32(t.SSRC()))
		}
		r.Replicate(t, receiver)
	})

	pc.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		u.log().WithField("state", connectionState.String()).Info("pub ICE connection state")
		if connectionState == webrtc.ICEConnectionStateFailed ||
			connectionState == webrtc.ICEConnectionStateDisconnected {
			u.conn.Close()
		}
	})

	if err = pc.SetRemoteDescription(offer); err != nil {
		u.fail("pub SetRemoteDescription(offer)", err)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		u.fail("pub CreateAnswer()", err)
		return
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		u.fail("pub SetLocalDescription(answer)", err)
		return
	}

	<-gatherComplete

	if err = u.reply(pc, defs.ActPublish, u.Id); err != nil {
		u.fail("pub reply", err)
		return
	}
	u.log().Info("pub negotiation done")
}

// welcomed runs once both tracks flow, so invited users find both replicators
func (u *User) welcomed() {
	atomic.StoreInt32(&u.publisher, 1)
	u.inviteOthers(u.Id)
}

// pliLoop keeps asking for key frames until the peer connection is gone
func (u *User) pliLoop(pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(u.pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-u.done:
			return
		case <-ticker.C:
			if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				u.log().WithError(err).Debug("failed to write rtcp")
				return
			}
		}
	}
}

func (u *User) reply(pc *webrtc.PeerConnection, action string, id int64) (err error) {
	response, err := json.Marshal(*pc.LocalDescription())
	if err != nil {
		return
	}

	u.send(&defs.WsPload{
		Action: action,
		Id:     id,
		Data:   response,
	})
	return
}

func (u *User) negotiateSubscriber(srcId int64, data []byte) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		u.fail("sub offer unmarshal", err)
		return
	}

	pc, err := u.api.NewPeerConnection(webrtc.Configuration{SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback})
	if err != nil {
		u.fail("sub peerconn", err)
		return
	}
	u.mu.Lock()
	u.pc = append(u.pc, pc)
	u.mu.Unlock()

	videoTrack := media.NewRelayTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, fmt.Sprintf("video%d", srcId), fmt.Sprint(srcId))
	audioTrack := media.NewRelayTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, fmt.Sprintf("audio%d", srcId), fmt.Sprint(srcId))

	for _, t := range []*media.RelayTrack{videoTrack, audioTrack} {
		sender, err := pc.AddTrack(t)
		if err != nil {
			u.fail("sub track add "+t.Kind().String(), err)
			return
		}
		go u.readRTCP(sender, srcId, t.Kind())
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		u.log().WithFields(logrus.Fields{"state": s.String(), "publisher": srcId}).Info("sub peer connection state")
	})

	if err = pc.SetRemoteDescription(offer); err != nil {
		u.fail("sub SetRemoteDescription", err)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		u.fail("sub CreateAnswer", err)
		return
	}

	// Create channel that is blocked until ICE Gathering is complete
	gatherComplete := webrtc.GatheringCompletePromise(pc)

	if err = pc.SetLocalDescription(answer); err != nil {
		u.fail("sub SetLocalDescription", err)
		return
	}

	// Block until ICE Gathering is complete, disabling trickle ICE
	// we do this because we only can exchange one signaling message
	<-gatherComplete

	if err = u.reply(pc, defs.ActSubscribe, srcId); err != nil {
		u.fail("sub reply", err)
		return
	}
	u.log().WithField("publisher", srcId).Info("sub negotiation done")

	go u.subscribeTo(srcId, u.Id, webrtc.RTPCodecTypeVideo, videoTrack)
	go u.subscribeTo(srcId, u.Id, webrtc.RTPCodecTypeAudio, audioTrack)
}

// readRTCP drains receiver reports and passes key frame requests on to the publisher
func (u *User) readRTCP(sender *webrtc.RTPSender, srcId int64, kind webrtc.RTPCodecType) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			u.log().WithError(err).WithField("kind", kind.String()).Debug("sub rtcp rd")
			return
		}
		if wantsKeyFrame(pkts) {
			u.keyFrame(srcId, kind)
		}
	}
}

func wantsKeyFrame(pkts []rtcp.Packet) bool {
	for _, p := range pkts {
		switch p.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			return true
		}
	}
	return false
}
