package handlers

import (
	"context"
	"net/http"
	"wa_business/internal/scheduler"
	"wa_business/internal/services"

	"github.com/gin-gonic/gin"
)

// Sweeper is satisfied by *scheduler.Scheduler.
type Sweeper interface {
	Sweep(ctx context.Context) *scheduler.SweepReport
}

type AdminHandler struct {
	users       services.UserService
	wallet      services.WalletService
	commissions services.CommissionService
	vouchers    services.VoucherService
	sweeper     Sweeper
}

func NewAdminHandler(
	users services.UserService,
	wallet services.WalletService,
	commissions services.CommissionService,
	vouchers services.VoucherService,
	sweeper Sweeper,
) *AdminHandler {
	return &AdminHandler{
		users:       users,
		wallet:      wallet,
		commissions: commissions,
		vouchers:    vouchers,
		sweeper:     sweeper,
	}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req services.CreateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	user, err := h.users.CreateUser(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *AdminHandler) SetUserStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "is_active is required")
		return
	}
	if err := h.users.SetActive(c.Request.Context(), currentUser(c), id, *req.IsActive); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}

func (h *AdminHandler) SetCommissionRate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		CommissionRate *float64 `json:"commission_rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "commission_rate is required")
		return
	}
	if err := h.users.SetCommissionRate(c.Request.Context(), currentUser(c), id, *req.CommissionRate); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "commission_rate": *req.CommissionRate})
}

func (h *AdminHandler) AdjustWallet(c *gin.Context) {
	var req struct {
		UserID uint    `json:"user_id" binding:"required"`
		Amount float64 `json:"amount" binding:"required"`
		Reason string  `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id, amount and reason are required")
		return
	}
	result, err := h.wallet.Adjust(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Entry)
}

func (h *AdminHandler) ListVouchers(c *gin.Context) {
	vouchers, err := h.vouchers.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vouchers": vouchers})
}

func (h *AdminHandler) CreateVoucher(c *gin.Context) {
	var req services.VoucherInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	voucher, err := h.vouchers.Create(c.Request.Context(), req, currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, voucher)
}

func (h *AdminHandler) DeactivateVoucher(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.vouchers.Deactivate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// RunSweep triggers the subscription sweep outside the cron schedule.
func (h *AdminHandler) RunSweep(c *gin.Context) {
	report := h.sweeper.Sweep(c.Request.Context())
	if report == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Sweep already running"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandler) ListDealerChildren(c *gin.Context) {
	children, err := h.users.ListChildren(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"children": children})
}

func (h *AdminHandler) ListCommissions(c *gin.Context) {
	entries, err := h.commissions.Earnings(c.Request.Context(), currentUser(c).ID, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	total := 0.0
	for _, e := range entries {
		total += e.Amount
	}
	c.JSON(http.StatusOK, gin.H{"commissions": entries, "total": total})
}
