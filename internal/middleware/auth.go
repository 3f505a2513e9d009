package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nsxzhou1114/bloodlink-api/pkg/auth"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
	"go.uber.org/zap"
)

const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
	ctxTokenID  = "tokenID"
)

// TokenParser 解析访问令牌
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// JWTAuth JWT认证中间件，令牌取自 Authorization: Bearer 头
func JWTAuth(parser TokenParser, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录", nil)
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			response.Unauthorized(c, "Authorization格式错误", nil)
			c.Abort()
			return
		}

		claims, err := parser.Parse(parts[1])
		if err != nil {
			logger.Warnf("无效的令牌: %v", err)
			response.Unauthorized(c, "无效的令牌", err)
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// WSAuth 实时连接认证，浏览器无法设置请求头，令牌取自 token 查询参数
// 校验失败直接返回状态码，不进入升级流程
func WSAuth(parser TokenParser, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			logger.Warnf("实时连接认证失败: 缺少token, remote=%s", c.Request.RemoteAddr)
			response.Unauthorized(c, "请先登录", nil)
			c.Abort()
			return
		}

		claims, err := parser.Parse(token)
		if err != nil {
			logger.Warnf("实时连接认证失败: %v, remote=%s", err, c.Request.RemoteAddr)
			response.Unauthorized(c, "无效的令牌", err)
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ctxUserID, claims.UserID)
	c.Set(ctxUserRole, claims.Role)
	c.Set(ctxTokenID, claims.TokenID)
}

// GetUserID 从上下文中获取用户ID
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ctxUserID)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint)
	return id, ok
}

// GetUserRole 从上下文中获取用户角色
func GetUserRole(c *gin.Context) (string, bool) {
	userRole, exists := c.Get(ctxUserRole)
	if !exists {
		return "", false
	}
	role, ok := userRole.(string)
	return role, ok
}
