package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flock/internal/models"
)

func TestTOTPKnownVector(t *testing.T) {
	// RFC 6238, секрет "12345678901234567890", T=59 → 94287082 (8 цифр),
	// у нас 6 цифр → 287082
	r := &TOTPResolver{Now: func() time.Time { return time.Unix(59, 0) }}
	id := &models.Identity{Username: "alice", TOTPSecret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"}
	code, err := r.ResolveSecondFactor(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "287082", code)
}

func TestTOTPNoSecret(t *testing.T) {
	r := NewTOTPResolver()
	_, err := r.ResolveSecondFactor(context.Background(), &models.Identity{Username: "bob"})
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestTOTPBadSecret(t *testing.T) {
	r := NewTOTPResolver()
	_, err := r.ResolveSecondFactor(context.Background(), &models.Identity{Username: "eve", TOTPSecret: "not base32!!!"})
	assert.Error(t, err)
}
