package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/png" // PNGデコーダの登録

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	goqrcode "github.com/skip2/go-qrcode"

	"ticket-wallet/internal/domain/qrpayload"
)

// ErrEmptyContent 描画する内容が空
var ErrEmptyContent = errors.New("qr content is empty")

// DefaultSize 画像の既定の一辺（ピクセル）
const DefaultSize = 512

// Imager 署名済みコンテナとPNG画像の相互変換
type Imager struct {
	size int
}

// NewImager 新しいImagerを作成（size<=0はDefaultSize）
func NewImager(size int) *Imager {
	if size <= 0 {
		size = DefaultSize
	}
	return &Imager{size: size}
}

// RenderPNG コンテナをQRコードのPNGに描画（誤り訂正レベルは最高）
func (i *Imager) RenderPNG(container []byte) ([]byte, error) {
	if len(container) == 0 {
		return nil, ErrEmptyContent
	}
	png, err := goqrcode.Encode(string(container), goqrcode.Highest, i.size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}

// ScanPNG PNG画像からQRコードを読み取りコンテナを返す
// 画像として読めない、またはQRコードが見つからない場合はErrMalformedPayload
func (i *Imager) ScanPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable image: %v", qrpayload.ErrMalformedPayload, err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", qrpayload.ErrMalformedPayload, err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return nil, fmt.Errorf("%w: no qr code found: %v", qrpayload.ErrMalformedPayload, err)
	}
	return []byte(result.GetText()), nil
}
