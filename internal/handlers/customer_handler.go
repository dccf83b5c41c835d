package handlers

import (
	"net/http"
	"wa_business/internal/services"

	"github.com/gin-gonic/gin"
)

type CustomerHandler struct {
	subscriptions services.SubscriptionService
	payments      services.PaymentService
	wallet        services.WalletService
	vouchers      services.VoucherService
}

func NewCustomerHandler(
	subscriptions services.SubscriptionService,
	payments services.PaymentService,
	wallet services.WalletService,
	vouchers services.VoucherService,
) *CustomerHandler {
	return &CustomerHandler{
		subscriptions: subscriptions,
		payments:      payments,
		wallet:        wallet,
		vouchers:      vouchers,
	}
}

func (h *CustomerHandler) ListPackages(c *gin.Context) {
	pkgs, err := h.subscriptions.ListPackages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": pkgs})
}

func (h *CustomerHandler) ListSubscriptions(c *gin.Context) {
	subs, err := h.subscriptions.List(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

type purchaseRequest struct {
	PackageID   uint   `json:"package_id" binding:"required"`
	Mode        string `json:"mode"`
	VoucherCode string `json:"voucher_code"`
}

// PurchaseWithBizPoints pays for a package from the wallet.
func (h *CustomerHandler) PurchaseWithBizPoints(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "package_id is required")
		return
	}
	mode, err := services.ParsePurchaseMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := h.payments.PurchaseWithBizPoints(c.Request.Context(), currentUser(c).ID, req.PackageID, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *CustomerHandler) CancelSubscription(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.subscriptions.Cancel(c.Request.Context(), currentUser(c).ID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *CustomerHandler) CreatePaymentOrder(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "package_id is required")
		return
	}
	mode, err := services.ParsePurchaseMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}
	order, err := h.payments.CreateOrder(c.Request.Context(), services.CheckoutRequest{
		UserID:      currentUser(c).ID,
		PackageID:   req.PackageID,
		VoucherCode: req.VoucherCode,
		Mode:        mode,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *CustomerHandler) VerifyPayment(c *gin.Context) {
	var req struct {
		OrderID   string `json:"razorpay_order_id" binding:"required"`
		PaymentID string `json:"razorpay_payment_id" binding:"required"`
		Signature string `json:"razorpay_signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "razorpay_order_id and razorpay_payment_id are required")
		return
	}
	result, err := h.payments.ConfirmGatewayPayment(c.Request.Context(), services.PaymentConfirmation{
		UserID:    currentUser(c).ID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CustomerHandler) ListPayments(c *gin.Context) {
	payments, err := h.payments.ListPayments(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *CustomerHandler) Wallet(c *gin.Context) {
	balance, err := h.wallet.Balance(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"biz_points": balance})
}

func (h *CustomerHandler) WalletTransactions(c *gin.Context) {
	entries, err := h.wallet.History(c.Request.Context(), currentUser(c).ID, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}

func (h *CustomerHandler) RedeemVoucher(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}
	result, err := h.vouchers.Redeem(c.Request.Context(), currentUser(c).ID, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
