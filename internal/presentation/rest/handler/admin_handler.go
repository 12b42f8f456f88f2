package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	ledgerapp "ticket-wallet/internal/application/ledger"
	walletapp "ticket-wallet/internal/application/wallet"
)

// AdminHandler 運用向けハンドラー
type AdminHandler struct {
	walletService *walletapp.WalletApplicationService
	ledgerService *ledgerapp.LedgerApplicationService
	now           func() time.Time
}

// NewAdminHandler 新しいAdminHandlerを作成
func NewAdminHandler(walletService *walletapp.WalletApplicationService, ledgerService *ledgerapp.LedgerApplicationService) *AdminHandler {
	return &AdminHandler{
		walletService: walletService,
		ledgerService: ledgerService,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Refund 返金ハンドラー（管理API用）
// @Summary 購入を返金（管理API）
// @Description 無効化済みチケットの購入トランザクションを返金します。同じ購入への再実行は既存の返金を返します
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param transaction_id path string true "購入トランザクションID"
// @Success 200 {object} TransactionResponse "返金成功"
// @Failure 404 {object} ErrorResponse "トランザクションが存在しない"
// @Failure 409 {object} ErrorResponse "返金できない購入"
// @Router /admin/transactions/{transaction_id}/refund [post]
func (h *AdminHandler) Refund(c echo.Context) error {
	resp, err := h.walletService.Refund(c.Request().Context(), &walletapp.RefundRequest{
		TransactionID: c.Param("transaction_id"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTransactionResponse(resp))
}

// ReconcileAll 全ウォレット照合ハンドラー（管理API用）
// @Summary 全ウォレットの照合（管理API）
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Success 200 {object} ReconciliationResponse "照合結果"
// @Router /admin/reconciliation [get]
func (h *AdminHandler) ReconcileAll(c echo.Context) error {
	reports, err := h.ledgerService.ReconcileAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newReconciliationResponse(reports))
}

// ReconcileWallet ウォレット照合ハンドラー（管理API用）
// @Summary ウォレットの照合（管理API）
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param wallet_id path string true "ウォレットID"
// @Success 200 {object} ReconciliationResponse "照合結果"
// @Failure 404 {object} ErrorResponse "ウォレットが存在しない"
// @Router /admin/wallets/{wallet_id}/reconciliation [get]
func (h *AdminHandler) ReconcileWallet(c echo.Context) error {
	report, err := h.ledgerService.Reconcile(c.Request().Context(), c.Param("wallet_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newReconciliationResponse([]*ledgerapp.ReconciliationReport{report}))
}

// Sweep スイープ実行ハンドラー（管理API用）
// @Summary 滞留pendingのスイープを即時実行（管理API）
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Success 200 {object} SweepResponse "スイープ結果"
// @Router /admin/sweep [post]
func (h *AdminHandler) Sweep(c echo.Context) error {
	result, err := h.ledgerService.Sweep(c.Request().Context(), h.now())
	if err != nil {
		return err
	}
	resp := SweepResponse{
		FailedTransactionIDs: result.FailedTransactionIDs,
		Reports:              result.Reports,
	}
	if resp.FailedTransactionIDs == nil {
		resp.FailedTransactionIDs = []string{}
	}
	if resp.Reports == nil {
		resp.Reports = []*ledgerapp.ReconciliationReport{}
	}
	return c.JSON(http.StatusOK, resp)
}

func newReconciliationResponse(reports []*ledgerapp.ReconciliationReport) ReconciliationResponse {
	consistent := true
	for _, r := range reports {
		if !r.Consistent() {
			consistent = false
		}
	}
	if reports == nil {
		reports = []*ledgerapp.ReconciliationReport{}
	}
	return ReconciliationResponse{Consistent: consistent, Reports: reports}
}
