package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/service"
)

// InboxHandler 收件箱查询处理器
type InboxHandler struct {
	inbox *service.InboxService
}

// NewInboxHandler 创建收件箱查询处理器
func NewInboxHandler(inbox *service.InboxService) *InboxHandler {
	return &InboxHandler{inbox: inbox}
}

type emailListResponse struct {
	Emails []domain.EmailSummary `json:"emails"`
}

type emailDetailResponse struct {
	Email *domain.Email `json:"email"`
}

// ListEmails 获取收件箱邮件列表
// @Summary 获取收件箱邮件列表
// @Description 返回 username@domain 收到的邮件摘要，最新的在前
// @Tags Inbox
// @Produce json
// @Param username path string true "用户名"
// @Success 200 {object} emailListResponse
// @Failure 403 {object} errorResponse
// @Failure 503 {object} errorResponse
// @Router /api/emails/{username} [get]
func (h *InboxHandler) ListEmails(c *gin.Context) {
	emails, err := h.inbox.ListByAddress(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, emailListResponse{Emails: emails})
}

// GetEmail 获取邮件详情
// @Summary 获取邮件详情
// @Tags Inbox
// @Produce json
// @Param id path string true "邮件ID"
// @Success 200 {object} emailDetailResponse
// @Failure 404 {object} errorResponse
// @Failure 503 {object} errorResponse
// @Router /api/emails/detail/{id} [get]
func (h *InboxHandler) GetEmail(c *gin.Context) {
	email, err := h.inbox.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, emailDetailResponse{Email: email})
}
