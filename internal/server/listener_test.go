package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSerialListenerOneAtATime は払い出した接続が閉じられるまで次の Accept が待つことをテストする
func TestSerialListenerOneAtATime(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sl := newSerialListener(ln)
	defer sl.Close()

	// 2本の接続を用意する
	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", sl.Addr().String())
		require.NoError(t, err)
		defer c.Close()
	}

	first, err := sl.Accept()
	require.NoError(t, err)

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := sl.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	select {
	case <-accepted:
		t.Fatal("前の接続が開いている間に次の接続が払い出されました")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, first.Close())
	// 二重の Close でも枠は一度だけ返却される
	_ = first.Close()

	select {
	case second := <-accepted:
		second.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("接続が閉じられた後も次の接続が払い出されません")
	}
}

// TestSerialListenerClose は Close が待機中の Accept を解除することをテストする
func TestSerialListenerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sl := newSerialListener(ln)

	c, err := net.Dial("tcp", sl.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	held, err := sl.Accept()
	require.NoError(t, err)
	defer held.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := sl.Accept()
		errCh <- err
	}()

	require.NoError(t, sl.Close())
	assert.NoError(t, sl.Close(), "二重の Close はエラーにならない")

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, net.ErrClosed), "予期しないエラー: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close 後も Accept が戻りません")
	}
}
