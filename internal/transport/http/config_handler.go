package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tempinbox/backend/internal/domain"
)

// ConfigHandler 公开配置处理器
type ConfigHandler struct {
	domain       string
	pollInterval time.Duration
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(mailDomain string, pollInterval time.Duration) *ConfigHandler {
	return &ConfigHandler{
		domain:       mailDomain,
		pollInterval: pollInterval,
	}
}

// configResponse 客户端共用的地址规则
type configResponse struct {
	Domain            string   `json:"domain"`
	ReservedUsernames []string `json:"reservedUsernames"`
	PollInterval      int64    `json:"pollInterval"` // 毫秒
}

// GetConfig 获取公开配置
// @Summary 获取公开配置
// @Description 返回收件域名、保留用户名列表与建议轮询间隔
// @Tags Config
// @Produce json
// @Success 200 {object} configResponse
// @Router /api/config [get]
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, configResponse{
		Domain:            h.domain,
		ReservedUsernames: domain.ReservedUsernames(),
		PollInterval:      h.pollInterval.Milliseconds(),
	})
}
