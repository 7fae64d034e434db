package media

import (
	"io"
	"sync"

	"github.com/dmisol/simple-relay/pkg/defs"
	"github.com/dmisol/simple-relay/pkg/rtphdr"
	"github.com/sirupsen/logrus"
)

const maxPacketSize = 1500

func NewTrackReplicator(srcId int64) (tr *TrackReplicator) {
	tr = &TrackReplicator{
		id:    srcId,
		sinks: make(map[int64]defs.PacketWriter),
	}
	return
}

// TrackReplicator copies packets of one ingress track to every sink.
type TrackReplicator struct {
	id    int64 // publisher
	mu    sync.Mutex
	sinks map[int64]defs.PacketWriter // [id] - neighbour users, to whom
}

// Run blocks until r fails. first is called once, after the first packet was read.
func (tr *TrackReplicator) Run(r defs.PacketReader, stop func(), first func()) {
	defer stop()
	defer tr.closeAll()

	log := tr.log().WithField("kind", r.Kind().String())
	b := make([]byte, maxPacketSize)

	for started := false; ; started = true {
		n, _, err := r.Read(b)
		if err != nil {
			log.WithError(err).Info("track ended")
			return
		}
		if !started && first != nil {
			first()
		}
		if err = rtphdr.Check(b, n); err != nil {
			log.WithError(err).Debug("packet dropped")
			continue
		}
		tr.write(log, b[:n])
	}
}

func (tr *TrackReplicator) write(log *logrus.Entry, p []byte) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	toDel := make([]int64, 0)
	for id, dest := range tr.sinks {
		if _, err := dest.Write(p); err != nil {
			log.WithError(err).WithField("sink", id).Warn("write failed")
			toDel = append(toDel, id)
		}
	}

	for _, v := range toDel {
		tr.del(v)
	}
}

func (tr *TrackReplicator) Add(id int64, w defs.PacketWriter) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.del(id)
	tr.sinks[id] = w
}

func (tr *TrackReplicator) Del(id int64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.del(id)
}

func (tr *TrackReplicator) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return len(tr.sinks)
}

// del expects tr.mu held
func (tr *TrackReplicator) del(id int64) {
	w, ok := tr.sinks[id]
	if !ok {
		return
	}
	delete(tr.sinks, id)
	if c, ok := w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			tr.log().WithError(err).WithField("sink", id).Warn("close failed")
		}
	}
}

func (tr *TrackReplicator) closeAll() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for id := range tr.sinks {
		tr.del(id)
	}
}

func (tr *TrackReplicator) log() *logrus.Entry {
	return logrus.WithField("publisher", tr.id)
}
