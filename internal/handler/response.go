package handler

import (
	"github.com/gin-gonic/gin"
)

// Success writes {ok: true, <key>: data}.
func Success(c *gin.Context, status int, key string, data interface{}) {
	c.JSON(status, gin.H{
		"ok": true,
		key:  data,
	})
}
