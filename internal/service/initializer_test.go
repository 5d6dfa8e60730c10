// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("all services initialize", func(t *testing.T) {
		j := &journal{}
		counter := &fakeService{name: "counter", journal: j}
		interceptor := &fakeService{name: "interceptor", journal: j}
		plain := &fakeService{name: "plain", journal: j}

		err := Init(nil, []Service{initOnly{counter}, initShutdown{interceptor}, runOnly{plain}})
		require.NoError(t, err)
		assert.Equal(t, []string{"init counter", "init interceptor"}, j.list())
	})

	t.Run("failure shuts down initialized services in reverse order", func(t *testing.T) {
		j := &journal{}
		initErr := errors.New("no trace")
		a := &fakeService{name: "a", journal: j}
		b := &fakeService{name: "b", journal: j}
		replay := &fakeService{name: "replay", journal: j, initFn: func() error { return initErr }}
		later := &fakeService{name: "later", journal: j}

		err := Init(nil, []Service{initShutdown{a}, initShutdown{b}, initShutdown{replay}, initShutdown{later}})
		require.Error(t, err)
		assert.ErrorIs(t, err, initErr)
		assert.Contains(t, err.Error(), "failed to initialize service replay")

		assert.Equal(t, []string{
			"init a", "init b", "init replay",
			"shutdown b", "shutdown a",
		}, j.list())
	})

	t.Run("shutdown error does not replace the init error", func(t *testing.T) {
		initErr := errors.New("init error")
		shutdownErr := errors.New("shutdown error")
		a := &fakeService{name: "a", shutdownFn: func() error { return shutdownErr }}
		b := &fakeService{name: "b", initFn: func() error { return initErr }}

		err := Init(nil, []Service{initShutdown{a}, initOnly{b}})
		require.Error(t, err)
		assert.ErrorIs(t, err, initErr)
		assert.NotErrorIs(t, err, shutdownErr)
		_, _, shutdowns := a.counts()
		assert.Equal(t, 1, shutdowns)
	})

	t.Run("empty service list", func(t *testing.T) {
		assert.NoError(t, Init(nil, nil))
	})
}
