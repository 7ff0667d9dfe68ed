package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"deadline", context.DeadlineExceeded, KindDeadline},
		{"wrapped deadline", fmt.Errorf("predict: %w", context.DeadlineExceeded), KindDeadline},
		{"circuit open", eris.Wrap(ErrOpen, "endpoint x"), KindCircuitOpen},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindUnavailable},
		{"503", &StatusError{Err: errors.New("unavailable"), StatusCode: 503}, KindUnavailable},
		{"400", &StatusError{Err: errors.New("bad request"), StatusCode: 400}, KindOther},
		{"other", errors.New("decode predictions"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsUnavailable_MessageHeuristics(t *testing.T) {
	assert.True(t, IsUnavailable(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsUnavailable(errors.New("dial tcp: lookup predictor: no such host")))
	assert.False(t, IsUnavailable(errors.New("invalid json")))
	assert.False(t, IsUnavailable(nil))
}
