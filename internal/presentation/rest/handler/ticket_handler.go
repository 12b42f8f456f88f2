package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	issuanceapp "ticket-wallet/internal/application/issuance"
	restmiddleware "ticket-wallet/internal/presentation/rest/middleware"
)

// TicketHandler チケット関連ハンドラー
type TicketHandler struct {
	issuanceService *issuanceapp.IssuanceApplicationService
}

// NewTicketHandler 新しいTicketHandlerを作成
func NewTicketHandler(issuanceService *issuanceapp.IssuanceApplicationService) *TicketHandler {
	return &TicketHandler{
		issuanceService: issuanceService,
	}
}

// GetTicketImage チケットQRコード画像取得ハンドラー
// @Summary チケットのQRコード画像を取得
// @Description 所有者本人のみ取得できます
// @Tags tickets
// @Produce png
// @Security Bearer
// @Param ticket_id path string true "チケットID"
// @Success 200 {file} binary "PNG画像"
// @Failure 403 {object} ErrorResponse "他人のチケット"
// @Failure 404 {object} ErrorResponse "チケットが存在しない"
// @Router /tickets/{ticket_id}/image [get]
func (h *TicketHandler) GetTicketImage(c echo.Context) error {
	ownerID, ok := restmiddleware.OwnerID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner_id not found in token")
	}

	img, err := h.issuanceService.RenderTicketImage(c.Request().Context(), &issuanceapp.RenderTicketImageRequest{
		TicketID: c.Param("ticket_id"),
		OwnerID:  ownerID,
	})
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", img)
}

// VoidTicket チケット無効化ハンドラー（管理API用）
// @Summary チケットを無効化（管理API）
// @Description 未使用のチケットを無効化します。無効化済みの場合はそのまま返します
// @Tags admin
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param ticket_id path string true "チケットID"
// @Param request body VoidTicketRequest false "無効化理由"
// @Success 200 {object} TicketItem "無効化成功"
// @Failure 404 {object} ErrorResponse "チケットが存在しない"
// @Failure 409 {object} ErrorResponse "使用済みまたは期限切れ"
// @Router /admin/tickets/{ticket_id}/void [post]
func (h *TicketHandler) VoidTicket(c echo.Context) error {
	var reqBody VoidTicketRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.issuanceService.VoidTicket(c.Request().Context(), &issuanceapp.VoidTicketRequest{
		TicketID: c.Param("ticket_id"),
		Reason:   reqBody.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTicketItem(resp))
}

// ListEventTickets イベントのチケット一覧ハンドラー（管理API用）
// @Summary イベントのチケット一覧（管理API）
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param event_id path string true "イベントID"
// @Success 200 {object} TicketListResponse "取得成功"
// @Router /admin/events/{event_id}/tickets [get]
func (h *TicketHandler) ListEventTickets(c echo.Context) error {
	eventID := c.Param("event_id")
	tickets, err := h.issuanceService.ListEventTickets(c.Request().Context(), eventID)
	if err != nil {
		return err
	}

	items := make([]TicketItem, len(tickets))
	for i, t := range tickets {
		items[i] = toTicketItem(t)
	}
	return c.JSON(http.StatusOK, TicketListResponse{EventID: eventID, Tickets: items})
}

// GetEventImage イベントQRコード画像取得ハンドラー（管理API用）
// @Summary イベントのQRコード画像（管理API）
// @Description 会場掲示用のイベントQRコードを返します。入場には使えません
// @Tags admin
// @Produce png
// @Param X-API-Key header string true "APIキー"
// @Param event_id path string true "イベントID"
// @Success 200 {file} binary "PNG画像"
// @Failure 404 {object} ErrorResponse "イベントが存在しない"
// @Router /admin/events/{event_id}/image [get]
func (h *TicketHandler) GetEventImage(c echo.Context) error {
	img, err := h.issuanceService.RenderEventImage(c.Request().Context(), c.Param("event_id"))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", img)
}

func toTicketItem(t *issuanceapp.TicketResponse) TicketItem {
	item := TicketItem{
		TicketID:              t.TicketID,
		EventID:               t.EventID,
		OwnerID:               t.OwnerID,
		PurchaseTransactionID: t.PurchaseTransactionID,
		State:                 t.State,
		IssuedAt:              t.IssuedAt.Format(time.RFC3339),
		ValidUntil:            t.ValidUntil.Format(time.RFC3339),
		RedeemedByDeviceID:    t.RedeemedByDeviceID,
		RedeemedByScannerID:   t.RedeemedByScannerID,
		VoidReason:            t.VoidReason,
	}
	if t.RedeemedAt != nil {
		s := t.RedeemedAt.Format(time.RFC3339)
		item.RedeemedAt = &s
	}
	return item
}
