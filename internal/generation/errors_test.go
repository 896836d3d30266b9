package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient sentinel", ErrTransientFailure, true},
		{"wrapped transient", fmt.Errorf("call failed: %w", ErrTransientFailure), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"content blocked", ErrContentBlocked, false},
		{"invalid response", fmt.Errorf("parse: %w", ErrInvalidResponse), false},
		{"invalid payload", ErrInvalidPayload, false},
		{"invalid config", ErrInvalidConfig, false},
		{"unclassified defaults to transient", errors.New("connection reset by peer"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
