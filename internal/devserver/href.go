package devserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const hrefIssuer = "dirsync-devserver"

var (
	errUnknownTransfer = errors.New("unknown transfer")
	errExpiredTransfer = errors.New("transfer url expired")
)

// hrefClaims is carried in every issued href. The object is the subject and
// the ID is remembered until the href is redeemed.
type hrefClaims struct {
	Op string `json:"op"`
	jwt.RegisteredClaims
}

func newSigningKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("devserver: signing key: %v", err))
	}
	return key
}

// signHref returns a token for op on object and its ID. Callers hold s.mu.
func (s *Server) signHref(op, object string) (token string, id string, err error) {
	now := s.now()
	id = uuid.NewString()
	claims := hrefClaims{
		Op: op,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   object,
			Issuer:    hrefIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.HrefTTL)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	return token, id, err
}

// parseHref verifies the signature and expiry of token. Callers hold s.mu.
func (s *Server) parseHref(token string) (*hrefClaims, error) {
	claims := &hrefClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(hrefIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return claims, err
}

// redeem consumes an href; every href works at most once
func (s *Server) redeem(token, op string) (*hrefClaims, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims, err := s.parseHref(token)
	if errors.Is(err, jwt.ErrTokenExpired) {
		delete(s.issued, claims.ID)
		return nil, http.StatusGone, errExpiredTransfer
	}
	if err != nil || claims.Op != op {
		return nil, http.StatusNotFound, errUnknownTransfer
	}
	if _, ok := s.issued[claims.ID]; !ok {
		return nil, http.StatusNotFound, errUnknownTransfer
	}
	delete(s.issued, claims.ID)
	return claims, 0, nil
}
