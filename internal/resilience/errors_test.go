package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("503"), 503), true},
		{"wrapped with fmt", fmt.Errorf("call: %w", NewTransientError(errors.New("429"), 429)), true},
		{"plain", errors.New("invalid request"), false},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"pattern", errors.New("read tcp: i/o timeout"), true},
		{"pattern case", errors.New("net/http: TLS handshake timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, CheckStatus("sms", 202, nil))

	err := CheckStatus("sms", 503, []byte("  upstream down  "))
	assert.True(t, IsTransient(err))
	assert.Equal(t, "sms: status 503: upstream down", err.Error())

	var te *TransientError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)

	err = CheckStatus("whatsapp", 400, make([]byte, 500))
	assert.False(t, IsTransient(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindCircuitOpen, Classify(eris.Wrap(ErrCircuitOpen, "send")))
	assert.Equal(t, KindCanceled, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, Classify(NewTransientError(errors.New("x"), 500)))
	assert.Equal(t, KindPermanent, Classify(errors.New("bad recipient")))
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 500)
	assert.Same(t, inner, errors.Unwrap(te))
	assert.Equal(t, "inner", te.Error())
}
