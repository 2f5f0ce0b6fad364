package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
)

// AnyRoom in the room claim makes a token valid for every room.
const AnyRoom = "*"

var (
	ErrNoSecret     = errors.New("token secret not configured")
	ErrRoomMismatch = errors.New("token is not valid for this room")
	ErrInvalidRole  = errors.New("tokens may only grant the moderator role")
)

// Claims carried by a moderator capability token.
type Claims struct {
	Room string `json:"room"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService mints and checks HS256 moderator tokens. It implements
// port.TokenVerifier.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), now: time.Now}
}

func (s *TokenService) Issue(roomID string, role domain.Role, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	// Host is earned by joining first, never granted.
	if role != domain.RoleModerator {
		return "", ErrInvalidRole
	}

	now := s.now()
	claims := Claims{
		Room: roomID,
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) Verify(tokenString string, roomID domain.RoomID) (domain.Role, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if claims.Room != AnyRoom && claims.Room != roomID.String() {
		return "", ErrRoomMismatch
	}

	role := domain.Role(claims.Role)
	if role != domain.RoleModerator {
		return "", ErrInvalidRole
	}
	return role, nil
}
