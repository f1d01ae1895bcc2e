package public

import "github.com/buymall/buypay/internal/provider"

// Handler 前台/公开接口处理器入口
// 说明：该处理器服务于商城前台与绿界回调。
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
