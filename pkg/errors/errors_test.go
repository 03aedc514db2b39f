// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(CodeConfig, "bad office hours")
	assert.Equal(t, "config_error: bad office hours", plain.Error())

	cause := errors.New("exit status 1")
	wrapped := Wrap(CodeSubmitRejected, "bsub failed", cause)
	assert.Contains(t, wrapped.Error(), "bsub failed")
	assert.Contains(t, wrapped.Error(), "exit status 1")
	assert.ErrorIs(t, wrapped, cause)
}

func TestIs(t *testing.T) {
	err := SubmitRejected(errors.New("boom"), "submit failed")
	assert.True(t, Is(err, CodeSubmitRejected))
	assert.False(t, Is(err, CodeConfig))
	assert.False(t, Is(errors.New("plain"), CodeConfig))
}

func TestConvenienceConstructors(t *testing.T) {
	assert.True(t, Is(ConfigError("bad flag %q", "--x"), CodeConfig))
	assert.True(t, Is(TransientQueryFailure(nil, "bjobs failed"), CodeTransientQuery))
	assert.True(t, Is(KillFailed(nil, "bkill failed"), CodeKillFailed))
	assert.True(t, Is(IterationLimitReached(3), CodeIterationLimit))
	assert.True(t, Is(UserCancelled(), CodeUserCancelled))
}
