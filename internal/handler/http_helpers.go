package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gallerydesk/internal/gallery"
	"github.com/gallerydesk/internal/gateway"
	"github.com/gallerydesk/internal/service"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseIndexParam(c *gin.Context, key string) (int, error) {
	raw := c.Param(key)
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return idx, nil
}

func parseCollectionParam(c *gin.Context, key string) (gallery.Collection, bool) {
	collection, err := gallery.ParseCollection(c.Param(key))
	if err != nil {
		respondError(c, http.StatusBadRequest, "未知的图集分类")
		return "", false
	}
	return collection, true
}

// respondSaveError maps commit workflow failures to a status code. Gateway
// failures carry the failing step and the gateway's response text.
func respondSaveError(c *gin.Context, err error) {
	var gwErr *gateway.GatewayError
	switch {
	case errors.Is(err, service.ErrAuthRequired):
		respondError(c, http.StatusUnauthorized, "请先登录")
	case errors.Is(err, service.ErrNothingToSave):
		respondError(c, http.StatusBadRequest, "没有需要保存的修改")
	case errors.Is(err, service.ErrSaveInProgress):
		respondError(c, http.StatusConflict, "已有保存正在进行，请稍后再试")
	case errors.Is(err, service.ErrUploadMismatch):
		respondError(c, http.StatusConflict, "待上传文件与图集条目不一致，请重新加载")
	case errors.Is(err, gateway.ErrRefConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "分支已被其他提交更新，请重新加载后再保存",
			"step":     gateway.StepUpdateRef,
			"conflict": true,
		})
	case errors.As(err, &gwErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "保存失败：" + gwErr.Error(),
			"step":   gwErr.Step,
			"status": gwErr.Status,
		})
	default:
		respondError(c, http.StatusInternalServerError, "保存失败："+err.Error())
	}
}

func respondLoadError(c *gin.Context, err error) {
	var loadErr *service.LoadError
	if errors.As(err, &loadErr) {
		respondError(c, http.StatusBadGateway, "无法加载图集数据："+loadErr.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, "无法加载图集数据")
}
