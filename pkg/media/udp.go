package media

import (
	"net"
	"sync"

	"github.com/dmisol/simple-relay/pkg/rtphdr"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// UDPSink sends plain RTP to a remote address, e.g. for ffmpeg or gstreamer.
type UDPSink struct {
	mu   sync.Mutex
	conn *net.UDPConn
	rw   rtphdr.Rewriter
	buf  []byte
	sent uint64
}

func NewUDPSink(addr string, rw rtphdr.Rewriter) (s *UDPSink, err error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		err = errors.Wrapf(err, "resolve %s", addr)
		return
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		err = errors.Wrapf(err, "dial %s", addr)
		return
	}
	s = &UDPSink{
		conn: conn,
		rw:   rw,
		buf:  make([]byte, 0, maxPacketSize),
	}
	return
}

func (s *UDPSink) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf[:0], p...)
	if err = s.rw.Rewrite(s.buf, len(s.buf)); err != nil {
		return
	}
	if s.sent == 0 {
		s.logFirst()
	}
	if n, err = s.conn.Write(s.buf); err != nil {
		return
	}
	s.sent++
	return
}

func (s *UDPSink) logFirst() {
	var h rtp.Header
	if _, err := h.Unmarshal(s.buf); err != nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"addr": s.conn.RemoteAddr().String(),
		"ssrc": h.SSRC,
		"pt":   h.PayloadType,
		"seq":  h.SequenceNumber,
	}).Info("udp forward started")
}

func (s *UDPSink) Close() error {
	return s.conn.Close()
}
