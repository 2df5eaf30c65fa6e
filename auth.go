package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// hashCost is lowered by tests.
var hashCost = bcrypt.DefaultCost

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", &Failure{Status: http.StatusBadRequest, Message: "Password must be at most 72 bytes", Err: err}
	}
	return string(b), err
}

// comparePassword runs in constant time with respect to the stored digest.
func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// tokenIssuer mints token pairs. The access value is a signed JWT but the API
// treats it as opaque: validity is decided by the stored record only.
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func (ti *tokenIssuer) issue(client *Client, cred *Credential) (*Token, error) {
	now := ti.now()
	accessExp := now.Add(ti.accessTTL)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(cred.ID, 10),
		Audience:  jwt.ClaimStrings{client.ClientID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(accessExp),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := genToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return &Token{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: now.Add(ti.refreshTTL),
		ClientID:         client.ID,
		CredentialID:     cred.ID,
		CreatedAt:        now,
	}, nil
}

// newClientCredentials generates a public client id and its secret.
func newClientCredentials() (clientID, secret string, err error) {
	secret, err = genToken(24)
	if err != nil {
		return "", "", err
	}
	return "client_" + uuid.NewString(), secret, nil
}
