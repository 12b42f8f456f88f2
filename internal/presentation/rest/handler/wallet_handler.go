package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	walletapp "ticket-wallet/internal/application/wallet"
	restmiddleware "ticket-wallet/internal/presentation/rest/middleware"
)

// HeaderIdempotencyKey 冪等キーのヘッダー名（ボディのidempotency_keyが優先）
const HeaderIdempotencyKey = "Idempotency-Key"

// WalletHandler ウォレット関連ハンドラー
type WalletHandler struct {
	walletService *walletapp.WalletApplicationService
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(walletService *walletapp.WalletApplicationService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

// Deposit 入金ハンドラー
// @Summary 入金
// @Description 外部決済で入金し、ウォレット残高に反映します。初回入金でウォレットが作成されます
// @Tags wallet
// @Accept json
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID" example(wallet-1)
// @Param Idempotency-Key header string false "冪等キー"
// @Param request body DepositRequest true "入金リクエスト"
// @Success 200 {object} TransactionResponse "入金成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 403 {object} ErrorResponse "他人のウォレット"
// @Failure 409 {object} ErrorResponse "冪等キーの競合"
// @Failure 502 {object} ErrorResponse "外部決済の失敗"
// @Router /wallets/{wallet_id}/deposits [post]
func (h *WalletHandler) Deposit(c echo.Context) error {
	ownerID, ok := restmiddleware.OwnerID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner_id not found in token")
	}

	var reqBody DepositRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	amount, err := parseAmount(reqBody.Amount)
	if err != nil {
		return err
	}

	resp, err := h.walletService.Deposit(c.Request().Context(), &walletapp.DepositRequest{
		WalletID:       c.Param("wallet_id"),
		OwnerID:        ownerID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(c, reqBody.IdempotencyKey),
		ExternalRef:    reqBody.ExternalRef,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTransactionResponse(resp))
}

// Withdraw 出金ハンドラー
// @Summary 出金
// @Description ウォレット残高から外部へ払い出します
// @Tags wallet
// @Accept json
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID" example(wallet-1)
// @Param Idempotency-Key header string false "冪等キー"
// @Param request body WithdrawRequest true "出金リクエスト"
// @Success 200 {object} TransactionResponse "出金成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 404 {object} ErrorResponse "ウォレットが存在しない"
// @Failure 409 {object} ErrorResponse "残高不足"
// @Failure 502 {object} ErrorResponse "外部決済の失敗"
// @Router /wallets/{wallet_id}/withdrawals [post]
func (h *WalletHandler) Withdraw(c echo.Context) error {
	ownerID, ok := restmiddleware.OwnerID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner_id not found in token")
	}

	var reqBody WithdrawRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	amount, err := parseAmount(reqBody.Amount)
	if err != nil {
		return err
	}

	resp, err := h.walletService.Withdraw(c.Request().Context(), &walletapp.WithdrawRequest{
		WalletID:       c.Param("wallet_id"),
		OwnerID:        ownerID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(c, reqBody.IdempotencyKey),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTransactionResponse(resp))
}

// Purchase チケット購入ハンドラー
// @Summary チケット購入
// @Description イベント価格を残高から引き落とし、QRチケットを発行します
// @Tags wallet
// @Accept json
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID" example(wallet-1)
// @Param Idempotency-Key header string false "冪等キー"
// @Param request body PurchaseRequest true "購入リクエスト"
// @Success 201 {object} PurchaseResponse "購入成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 404 {object} ErrorResponse "ウォレットまたはイベントが存在しない"
// @Failure 409 {object} ErrorResponse "残高不足または販売終了"
// @Router /wallets/{wallet_id}/tickets [post]
func (h *WalletHandler) Purchase(c echo.Context) error {
	ownerID, ok := restmiddleware.OwnerID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner_id not found in token")
	}

	var reqBody PurchaseRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.EventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event_id is required")
	}

	resp, err := h.walletService.Purchase(c.Request().Context(), &walletapp.PurchaseRequest{
		WalletID:       c.Param("wallet_id"),
		OwnerID:        ownerID,
		EventID:        reqBody.EventID,
		IdempotencyKey: idempotencyKey(c, reqBody.IdempotencyKey),
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if resp.Transaction.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, PurchaseResponse{
		Transaction: toTransactionResponse(resp.Transaction),
		TicketID:    resp.TicketID,
		EventID:     resp.EventID,
		TicketState: resp.TicketState,
		ValidUntil:  resp.ValidUntil.Format(time.RFC3339),

		RefundTransactionID: resp.RefundTransactionID,
	})
}

// GetBalance 残高取得ハンドラー
// @Summary 残高を取得
// @Tags wallet
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID" example(wallet-1)
// @Success 200 {object} BalanceResponse "残高取得成功"
// @Failure 403 {object} ErrorResponse "他人のウォレット"
// @Failure 404 {object} ErrorResponse "ウォレットが存在しない"
// @Router /wallets/{wallet_id}/balance [get]
func (h *WalletHandler) GetBalance(c echo.Context) error {
	ownerID, ok := restmiddleware.OwnerID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "owner_id not found in token")
	}

	resp, err := h.walletService.GetBalance(c.Request().Context(), &walletapp.GetBalanceRequest{
		WalletID: c.Param("wallet_id"),
		OwnerID:  ownerID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, BalanceResponse{
		WalletID:       resp.WalletID,
		OwnerID:        resp.OwnerID,
		Balance:        strconv.FormatInt(resp.Balance, 10),
		TotalDeposited: strconv.FormatInt(resp.TotalDeposited, 10),
		TotalSpent:     strconv.FormatInt(resp.TotalSpent, 10),
		BalanceDisplay: resp.BalanceDisplay,
		Currency:       resp.Currency,
		Version:        resp.Version,
	})
}

// parseAmount 金額文字列をint64に変換
func parseAmount(s string) (int64, error) {
	if s == "" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "amount is required")
	}
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid amount format")
	}
	return amount, nil
}

func idempotencyKey(c echo.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.Request().Header.Get(HeaderIdempotencyKey)
}

func toTransactionResponse(resp *walletapp.TransactionResponse) TransactionResponse {
	out := TransactionResponse{
		TransactionID:        resp.TransactionID,
		WalletID:             resp.WalletID,
		TransactionType:      resp.TransactionType,
		Amount:               strconv.FormatInt(resp.Amount, 10),
		AmountDisplay:        resp.AmountDisplay,
		Status:               resp.Status,
		IdempotencyKey:       resp.IdempotencyKey,
		RelatedTicketID:      resp.RelatedTicketID,
		RelatedTransactionID: resp.RelatedTransactionID,
		ExternalRef:          resp.ExternalRef,
		CreatedAt:            resp.CreatedAt.Format(time.RFC3339),
		Replayed:             resp.Replayed,
	}
	if resp.CompletedAt != nil {
		s := resp.CompletedAt.Format(time.RFC3339)
		out.CompletedAt = &s
	}
	return out
}
