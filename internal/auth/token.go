package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's
// Authorization header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ExtractStaffIDFromJWT parses the staff identity (the 'sub' claim) out of a
// bearer token. The signature is not checked here: the token was issued by
// the ops console and verified server-side; the device only needs the
// identity for scanned_by attribution.
func ExtractStaffIDFromJWT(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("empty token")
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("subject claim not found in token")
	}

	return sub, nil
}

// StaffIDFromRequest is the convenience used by the scan handler: token
// present and parseable yields the staff id, anything else yields empty.
// scanned_by is nullable by design; a missing identity never blocks a scan.
func StaffIDFromRequest(r *http.Request) string {
	tokenString, err := ExtractTokenFromRequest(r)
	if err != nil {
		return ""
	}
	staffID, err := ExtractStaffIDFromJWT(tokenString)
	if err != nil {
		return ""
	}
	return staffID
}
