package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

// TokenType 定义token类型
type TokenType string

const (
	// AccessToken 访问令牌，用于访问资源与建立实时连接
	AccessToken TokenType = "access"
)

var (
	// ErrInvalidToken 令牌无效或已过期
	ErrInvalidToken = errors.New("无效的令牌")
	// ErrWrongTokenType 令牌类型不匹配
	ErrWrongTokenType = errors.New("使用了错误类型的令牌")
)

// Claims 自定义JWT声明结构体
type Claims struct {
	UserID  uint      `json:"user_id"`
	Role    string    `json:"role"`
	Type    TokenType `json:"type"`
	TokenID string    `json:"jti,omitempty"` // 令牌唯一ID
	jwt.StandardClaims
}

// Manager 签发与校验访问令牌
type Manager struct {
	secret []byte
	issuer string
	expire time.Duration
	now    func() time.Time
}

// NewManager 创建令牌管理器
func NewManager(secret, issuer string, expire time.Duration) *Manager {
	if expire <= 0 {
		expire = 2 * time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expire: expire,
		now:    time.Now,
	}
}

// Generate 生成访问令牌
func (m *Manager) Generate(userID uint, role string) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:  userID,
		Role:    role,
		Type:    AccessToken,
		TokenID: uuid.NewString(),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(m.expire).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return tokenString, nil
}

// Parse 解析并校验访问令牌
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != AccessToken {
		return nil, ErrWrongTokenType
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
