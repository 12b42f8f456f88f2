package qrcode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-wallet/internal/domain/qrpayload"
)

func TestImager_RoundTrip(t *testing.T) {
	codec, err := qrpayload.NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	p, err := qrpayload.NewTicketPayload("ticket-1", "event-1", "user-1", "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	container, err := codec.Encode(p)
	require.NoError(t, err)

	imager := NewImager(0)
	img, err := imager.RenderPNG(container)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))

	scanned, err := imager.ScanPNG(img)
	require.NoError(t, err)
	assert.Equal(t, container, scanned)

	decoded, err := codec.Decode(scanned)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestImager_RenderPNG_Empty(t *testing.T) {
	_, err := NewImager(256).RenderPNG(nil)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestImager_ScanPNG_Malformed(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			blank.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, blank))

	tests := []struct {
		name string
		data []byte
	}{
		{name: "異常系: 画像ではない", data: []byte("not an image")},
		{name: "異常系: 空データ", data: nil},
		{name: "異常系: QRコードを含まない画像", data: buf.Bytes()},
	}

	imager := NewImager(256)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := imager.ScanPNG(tt.data)
			assert.ErrorIs(t, err, qrpayload.ErrMalformedPayload)
		})
	}
}
