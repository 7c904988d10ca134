package server

import (
	"net"
	"sync"
)

// serialListener は同時に1つの接続だけを払い出すリスナー
// 払い出した接続が閉じられるまで次の Accept はブロックする
type serialListener struct {
	net.Listener

	slot      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// newSerialListener は ln を1接続ずつ処理するリスナーで包む
func newSerialListener(ln net.Listener) *serialListener {
	return &serialListener{
		Listener: ln,
		slot:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Accept は前の接続が閉じられるのを待ってから次の接続を受け付ける
func (l *serialListener) Accept() (net.Conn, error) {
	select {
	case l.slot <- struct{}{}:
	case <-l.done:
		return nil, net.ErrClosed
	}

	conn, err := l.Listener.Accept()
	if err != nil {
		<-l.slot
		return nil, err
	}

	return &serialConn{Conn: conn, release: l.release}, nil
}

// release は接続枠を返却する
func (l *serialListener) release() {
	<-l.slot
}

// Close はリスナーを閉じ、待機中の Accept を解除する
func (l *serialListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.Listener.Close()
	})
	return l.closeErr
}

// serialConn は閉じられたときに接続枠を返却する
type serialConn struct {
	net.Conn

	release   func()
	closeOnce sync.Once
}

// Close は接続を閉じ、一度だけ接続枠を返却する
func (c *serialConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(c.release)
	return err
}
