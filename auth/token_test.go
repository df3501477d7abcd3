package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/engine"
)

func TestToken_RoundTrip(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)

	token, err := issuer.Issue(engine.Principal{ID: "user-1", Role: engine.RoleClient}, "ana@example.com")
	require.NoError(t, err)

	principal, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.ID)
	assert.Equal(t, engine.RoleClient, principal.Role)
}

func TestToken_WrongSecret_Unauthenticated(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)
	other := auth.NewTokenIssuer([]byte("other-secret"), time.Hour)

	token, err := issuer.Issue(engine.Principal{ID: "user-1", Role: engine.RoleClient}, "")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.True(t, errors.Is(err, engine.ErrUnauthenticated))
}

func TestToken_Expired_Unauthenticated(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), -time.Minute)

	token, err := issuer.Issue(engine.Principal{ID: "user-1", Role: engine.RoleClient}, "")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.True(t, errors.Is(err, engine.ErrUnauthenticated))
}

func TestToken_Garbage_Unauthenticated(t *testing.T) {
	issuer := auth.NewTokenIssuer([]byte("test-secret"), time.Hour)

	_, err := issuer.Verify("not.a.token")
	assert.True(t, errors.Is(err, engine.ErrUnauthenticated))
}
