package jwttoken

import (
	authmw "qgate/pkg/platform/middleware/auth"
)

func ToMiddlewareClaims(claims *OperatorClaims) *authmw.JWTClaims {
	return &authmw.JWTClaims{
		OperatorID: claims.Subject,
		Role:       claims.Role,
		JTI:        claims.ID,
	}
}

// JWTServiceAdapter exposes JWTService as the middleware's validator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
