package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Códigos de erro da API
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeNotFound    = "NOT_FOUND"
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "UNAVAILABLE"
)

// respondError resposta de erro padrão {success:false, error:{code,message}}
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// parseWindow lê ?duration= (padrão 1h) e retorna o início da janela
func parseWindow(c *gin.Context, now time.Time) (time.Time, string, bool) {
	duration := c.DefaultQuery("duration", "1h")
	dur, err := time.ParseDuration(duration)
	if err != nil || dur <= 0 {
		respondError(c, 400, CodeBadRequest, "Invalid duration format. Use formats like: 5m, 1h, 24h")
		return time.Time{}, "", false
	}
	return now.Add(-dur), duration, true
}
