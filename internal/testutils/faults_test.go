package testutils

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected")

func TestFaultInjectorCount(t *testing.T) {
	fi := NewFaultInjector()
	fi.InjectErrorCount("op", errInjected, 2)

	ctx := context.Background()
	assert.ErrorIs(t, fi.ShouldFail(ctx, "op"), errInjected)
	assert.ErrorIs(t, fi.ShouldFail(ctx, "op"), errInjected)
	assert.NoError(t, fi.ShouldFail(ctx, "op"))
	assert.NoError(t, fi.ShouldFail(ctx, "other"))
	assert.Equal(t, int64(2), fi.Injected("op"))

	fi.Clear()
	assert.Equal(t, int64(0), fi.Injected("op"))
}

func TestFaultInjectorDelayHonoursContext(t *testing.T) {
	fi := NewFaultInjector()
	fi.InjectDelay("op", time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, fi.ShouldFail(ctx, "op"), context.DeadlineExceeded)
}

func TestFaultyDoer(t *testing.T) {
	s := NewSiteverifyServer(t, `{"success": true}`)
	fi := NewFaultInjector()
	doer := &FaultyDoer{Next: s.Client(), Injector: fi}

	fi.InjectErrorCount(OperationSiteverify, errInjected, 1)

	req, err := http.NewRequest(http.MethodPost, s.VerifyURL(), nil)
	require.NoError(t, err)

	_, err = doer.Do(req)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, s.CallCount())

	resp, err := doer.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, s.CallCount())
}
