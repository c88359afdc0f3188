package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindValidation, KindOf(Validationf("op", "bad %s", "host")))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", UpstreamStatus("fetch", 502, "bad gateway"))
	assert.Equal(t, KindUpstream, KindOf(wrapped))
	assert.Equal(t, 502, StatusOf(wrapped))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("ctx: %w", New(KindTenant, "switch", "unknown tenant %q", "t9"))
	assert.True(t, errors.Is(err, Tenant))
	assert.False(t, errors.Is(err, Authentication))
}

func TestIsExpired(t *testing.T) {
	assert.True(t, IsExpired(SessionExpired("get", 401)))
	assert.False(t, IsExpired(New(KindAuthentication, "login", "bad credentials")))
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext("op", nil))
	assert.Equal(t, KindTimeout, KindOf(FromContext("op", context.Canceled)))
	other := errors.New("boom")
	assert.Equal(t, other, FromContext("op", other))
}

func TestErrorMessage(t *testing.T) {
	err := UpstreamStatus("stats.fetch", 503, "unavailable")
	assert.Equal(t, "stats.fetch: upstream error (status 503): unavailable", err.Error())
}
