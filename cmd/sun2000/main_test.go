// cmd/sun2000/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		desc  string
		err   error
		code  int
		level string
	}{
		{desc: "clean", err: nil, code: 0, level: `"level":"info"`},
		{desc: "signal", err: fmt.Errorf("poll: %w", context.Canceled), code: 0, level: `"level":"info"`},
		{desc: "failure", err: errors.New("modbus connect failed"), code: 1, level: `"level":"error"`},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			var buf bytes.Buffer
			log := zerolog.New(&buf)

			assert.Equal(t, tc.code, exitCode(log, tc.err))
			assert.Contains(t, buf.String(), tc.level)
			assert.NotContains(t, buf.String(), `"level":"fatal"`)
		})
	}
}
