package defs

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

type Media interface {
	Replicate(*webrtc.TrackRemote, *webrtc.RTPReceiver) // track to replicate
	Add(int64, webrtc.RTPCodecType, PacketWriter)       // user to receive
	Del(int64)
	Pli(webrtc.RTPCodecType)
}

// PacketReader is satisfied by *webrtc.TrackRemote
type PacketReader interface {
	Kind() webrtc.RTPCodecType
	Read([]byte) (int, interceptor.Attributes, error)
}

// PacketWriter receives raw RTP packets. The buffer is only valid during the call.
type PacketWriter interface {
	Write([]byte) (int, error)
}
