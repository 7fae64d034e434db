package rtphdr

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header() []byte {
	return []byte{0x80, 0x60, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x11, 0x22, 0x33, 0x44}
}

func packet(t *testing.T, marker bool, pt uint8, ssrc uint32) []byte {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: 4711,
			Timestamp:      0x01020304,
			SSRC:           ssrc,
			CSRC:           []uint32{0xcafe},
		},
		Payload: []byte{0xaa, 0xbb, 0xcc, 0xdd},
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func TestRewriteSSRCExample(t *testing.T) {
	b := header()
	require.NoError(t, RewriteSSRC(b, len(b), 0xDEADBEEF))

	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, b[8:12])
	assert.Equal(t, header()[:8], b[:8])
}

func TestRewritePayloadTypeExample(t *testing.T) {
	b := header()
	require.NoError(t, RewritePayloadType(b, len(b), 8))

	want := header()
	want[1] = 0x08
	assert.Equal(t, want, b)

	// same header with the marker set
	b = header()
	b[1] = 0xE0
	require.NoError(t, RewritePayloadType(b, len(b), 8))
	assert.Equal(t, byte(0x88), b[1])
}

func TestRewriteSSRCParsed(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	values := []uint32{0, 1, 0xffffffff, 0x80000000}
	for i := 0; i < 200; i++ {
		values = append(values, r.Uint32())
	}

	for _, v := range values {
		b := packet(t, true, 111, 0x11223344)
		orig := append([]byte(nil), b...)

		require.NoError(t, RewriteSSRC(b, len(b), v))

		var p rtp.Packet
		require.NoError(t, p.Unmarshal(b))
		assert.Equal(t, v, p.SSRC)

		assert.Equal(t, orig[:8], b[:8])
		assert.Equal(t, orig[12:], b[12:])
	}
}

func TestRewritePayloadTypeParsed(t *testing.T) {
	for _, marker := range []bool{false, true} {
		for pt := 0; pt < 128; pt++ {
			b := packet(t, marker, 96, 0x11223344)
			orig := append([]byte(nil), b...)

			require.NoError(t, RewritePayloadType(b, len(b), uint8(pt)))

			var p rtp.Packet
			require.NoError(t, p.Unmarshal(b))
			assert.Equal(t, uint8(pt), p.PayloadType)
			assert.Equal(t, marker, p.Marker)

			assert.Equal(t, orig[:1], b[:1])
			assert.Equal(t, orig[2:], b[2:])
		}
	}
}

func TestRewritePayloadTypeHighBitIgnored(t *testing.T) {
	b := header()
	require.NoError(t, RewritePayloadType(b, len(b), 0x80|8))
	assert.Equal(t, byte(0x08), b[1])
}

func TestRewriteSSRCIdempotent(t *testing.T) {
	once := packet(t, false, 96, 1)
	twice := append([]byte(nil), once...)

	require.NoError(t, RewriteSSRC(once, len(once), 42))
	require.NoError(t, RewriteSSRC(twice, len(twice), 42))
	require.NoError(t, RewriteSSRC(twice, len(twice), 42))

	assert.Equal(t, once, twice)
}

func TestShortBuffer(t *testing.T) {
	full := header()

	for n := -1; n < HeaderSize; n++ {
		b := header()

		err := RewriteSSRC(b, n, 0xDEADBEEF)
		assert.True(t, errors.Is(err, ErrInvalidHeaderBuffer), "length %d", n)
		assert.Equal(t, full, b)

		err = RewritePayloadType(b, n, 8)
		assert.True(t, errors.Is(err, ErrInvalidHeaderBuffer), "length %d", n)
		assert.Equal(t, full, b)

		err = Rewriter{SSRC: 1, PayloadType: 8, RemapPayloadType: true}.Rewrite(b, n)
		assert.ErrorIs(t, err, ErrInvalidHeaderBuffer)
		assert.Equal(t, full, b)
	}
}

func TestLengthClampedToSlice(t *testing.T) {
	b := header()[:11]
	orig := append([]byte(nil), b...)

	err := RewriteSSRC(b, 1500, 0xDEADBEEF)
	assert.ErrorIs(t, err, ErrInvalidHeaderBuffer)
	assert.Equal(t, orig, b)

	_, err = SSRC(b, 1500)
	assert.ErrorIs(t, err, ErrInvalidHeaderBuffer)
}

func TestAccessors(t *testing.T) {
	b := packet(t, true, 100, 0x0a0b0c0d)

	ssrc, err := SSRC(b, len(b))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0a0b0c0d), ssrc)

	pt, err := PayloadType(b, len(b))
	require.NoError(t, err)
	assert.Equal(t, uint8(100), pt)

	m, err := Marker(b, len(b))
	require.NoError(t, err)
	assert.True(t, m)
}

func TestRewriter(t *testing.T) {
	b := packet(t, true, 96, 0x11223344)
	orig := append([]byte(nil), b...)

	r := Rewriter{SSRC: 0xDEADBEEF, PayloadType: 102}
	require.NoError(t, r.Rewrite(b, len(b)))

	var p rtp.Packet
	require.NoError(t, p.Unmarshal(b))
	assert.Equal(t, uint32(0xDEADBEEF), p.SSRC)
	assert.Equal(t, uint8(96), p.PayloadType)

	r.RemapPayloadType = true
	require.NoError(t, r.Rewrite(b, len(b)))
	require.NoError(t, p.Unmarshal(b))
	assert.Equal(t, uint8(102), p.PayloadType)
	assert.True(t, p.Marker)
	assert.True(t, bytes.Equal(orig[12:], b[12:]))
}
