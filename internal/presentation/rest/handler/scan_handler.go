package handler

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	redemptionapp "ticket-wallet/internal/application/redemption"
)

// maxScanImageSize 受け付けるPNG画像の最大サイズ
const maxScanImageSize = 2 << 20

// ScanHandler 入場スキャンハンドラー
type ScanHandler struct {
	redemptionService *redemptionapp.RedemptionApplicationService
}

// NewScanHandler 新しいScanHandlerを作成
func NewScanHandler(redemptionService *redemptionapp.RedemptionApplicationService) *ScanHandler {
	return &ScanHandler{
		redemptionService: redemptionService,
	}
}

// Scan 入場スキャンハンドラー（ゲート端末用）
// @Summary QRチケットを検証して入場処理
// @Description Content-Type: image/pngの場合は本文をPNG画像として読み取ります（device_id・scanner_idはクエリで指定）。判定結果はoutcomeで返します
// @Tags scans
// @Accept json
// @Accept png
// @Produce json
// @Param X-Device-Key header string true "端末キー"
// @Param request body ScanRequest false "スキャンリクエスト"
// @Success 200 {object} ScanResponse "判定結果"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 401 {object} ErrorResponse "認証エラー"
// @Router /scans [post]
func (h *ScanHandler) Scan(c echo.Context) error {
	ctx := c.Request().Context()

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), "image/png") {
		img, err := io.ReadAll(io.LimitReader(c.Request().Body, maxScanImageSize+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read image")
		}
		if len(img) > maxScanImageSize {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
		}
		result, err := h.redemptionService.ScanTicket(ctx, &redemptionapp.ScanTicketRequest{
			Image:     img,
			DeviceID:  c.QueryParam("device_id"),
			ScannerID: c.QueryParam("scanner_id"),
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toScanResponse(result))
	}

	var reqBody ScanRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}

	var (
		result *redemptionapp.RedemptionResult
		err    error
	)
	switch {
	case reqBody.Payload != "":
		result, err = h.redemptionService.ValidateScan(ctx, &redemptionapp.ValidateScanRequest{
			Payload:   []byte(reqBody.Payload),
			DeviceID:  reqBody.DeviceID,
			ScannerID: reqBody.ScannerID,
		})
	case reqBody.ImageBase64 != "":
		img, decodeErr := base64.StdEncoding.DecodeString(reqBody.ImageBase64)
		if decodeErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid image_base64")
		}
		result, err = h.redemptionService.ScanTicket(ctx, &redemptionapp.ScanTicketRequest{
			Image:     img,
			DeviceID:  reqBody.DeviceID,
			ScannerID: reqBody.ScannerID,
		})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "payload or image_base64 is required")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toScanResponse(result))
}

func toScanResponse(r *redemptionapp.RedemptionResult) ScanResponse {
	resp := ScanResponse{
		Outcome:  r.Outcome.String(),
		TicketID: r.TicketID,
		OwnerID:  r.OwnerID,
		EventID:  r.EventID,
		Reason:   r.Reason,
	}
	if r.RedeemedAt != nil {
		s := r.RedeemedAt.Format(time.RFC3339)
		resp.RedeemedAt = &s
	}
	return resp
}
