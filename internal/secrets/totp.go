package secrets

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"flock/internal/models"
)

// Resolver отдаёт код второго фактора для аккаунта. Вызывается движком
// на экране 2FA во время логина.
type Resolver interface {
	ResolveSecondFactor(ctx context.Context, id *models.Identity) (string, error)
}

var ErrNoSecret = errors.New("identity has no totp secret")

// TOTPResolver считает RFC 6238 код из сохранённого base32-секрета.
type TOTPResolver struct {
	Now func() time.Time // для тестов; nil — time.Now
}

func NewTOTPResolver() *TOTPResolver { return &TOTPResolver{} }

func (r *TOTPResolver) ResolveSecondFactor(_ context.Context, id *models.Identity) (string, error) {
	secret := strings.ToUpper(strings.TrimSpace(id.TOTPSecret))
	if secret == "" {
		return "", ErrNoSecret
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("identity %s: bad totp secret: %w", id.Username, err)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	counter := uint64(now().Unix() / 30)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff) % 1000000
	return fmt.Sprintf("%06d", code), nil
}
