package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims represents the JWT claims carried by admin API tokens
type AdminClaims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

const (
	// RoleAdmin grants access to the /admin API surface
	RoleAdmin = "admin"
)
