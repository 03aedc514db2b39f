// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView_Validate(t *testing.T) {
	cases := []struct {
		name    string
		flags   Flags
		wantErr bool
	}{
		{"running only", Flags{IsRunning: true}, false},
		{"pending only", Flags{IsPending: true}, false},
		{"completed only", Flags{IsCompleted: true}, false},
		{"killed and failed", killedAndFailed(), false},
		{"no flags", Flags{}, true},
		{"completed and failed", Flags{IsCompleted: true, IsFailed: true}, true},
		{"running and pending", Flags{IsRunning: true, IsPending: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewView(1, 0, tc.flags, nil)
			err := v.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestView_KillDelegates(t *testing.T) {
	called := false
	v := NewView(1, 0, Flags{IsRunning: true}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, v.Kill(context.Background()))
	assert.True(t, called)
}

func TestView_KillNoOpWithoutFunc(t *testing.T) {
	v := NewView(1, 0, Flags{IsRunning: true}, nil)
	assert.NoError(t, v.Kill(context.Background()))
}

func TestView_KillPropagatesError(t *testing.T) {
	wantErr := errors.New("backend unreachable")
	v := NewView(1, 0, Flags{IsRunning: true}, func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, v.Kill(context.Background()), wantErr)
}

func TestView_IsActiveAndTerminal(t *testing.T) {
	running := NewView(1, 0, Flags{IsRunning: true}, nil)
	assert.True(t, running.IsActive())
	assert.False(t, running.IsTerminal())

	done := NewView(1, 0, Flags{IsCompleted: true}, nil)
	assert.False(t, done.IsActive())
	assert.True(t, done.IsTerminal())
}

func TestHandle_String(t *testing.T) {
	assert.Equal(t, "42", Handle{JobID: 42}.String())
	assert.Equal(t, "42[3]", Handle{JobID: 42, ArrayIndex: 3}.String())
}
