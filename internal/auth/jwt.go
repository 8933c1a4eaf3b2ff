package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoomClaims scope a bearer credential to a single room.
// Subject carries the user id of the holder.
type RoomClaims struct {
	RoomID  string `json:"roomId"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

var errMissingRoom = errors.New("token has no room")

// roomKey derives the signing key of a room: every room signs with its own key.
func roomKey(secret []byte, roomID string) []byte {
	key := make([]byte, 0, len(secret)+len(roomID))
	key = append(key, secret...)
	return append(key, roomID...)
}

// GenerateRoomToken creates an HS256 token scoped to roomID.
func GenerateRoomToken(cfg *JWTConfig, roomID, userID string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := RoomClaims{
		RoomID:  roomID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cfg.Issuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if cfg.TTL != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(roomKey(cfg.Secret, roomID))
}

// ValidateRoomToken parses and verifies a room token. The key is picked from
// the roomId claim, so a token signed for another room never verifies.
func ValidateRoomToken(cfg *JWTConfig, tokenString string) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		claims, ok := token.Claims.(*RoomClaims)
		if !ok || claims.RoomID == "" {
			return nil, errMissingRoom
		}
		return roomKey(cfg.Secret, claims.RoomID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	return claims, nil
}
