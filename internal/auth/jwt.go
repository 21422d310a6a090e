package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jw "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("no subject")
)

// Verifier validates HS256 access tokens issued by the user service.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: 5 * time.Second}
}

// ValidateToken returns the user id carried in the "sub" claim. The legacy
// "userId" claim is accepted when "sub" is missing.
func (v *Verifier) ValidateToken(_ context.Context, token string) (int, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	t, err := jw.Parse(token, func(t *jw.Token) (any, error) {
		if _, ok := t.Method.(*jw.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jw.WithLeeway(v.leeway), jw.WithValidMethods([]string{jw.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return 0, ErrInvalidToken
	}
	mc, ok := t.Claims.(jw.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	raw, ok := mc["sub"]
	if !ok {
		raw, ok = mc["userId"]
	}
	if !ok {
		return 0, ErrNoSubject
	}
	id, err := subjectID(raw)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func subjectID(raw any) (int, error) {
	switch v := raw.(type) {
	case string:
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			return 0, ErrNoSubject
		}
		return id, nil
	case float64:
		if v <= 0 || v != float64(int(v)) {
			return 0, ErrNoSubject
		}
		return int(v), nil
	}
	return 0, ErrNoSubject
}
