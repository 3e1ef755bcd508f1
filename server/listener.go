package server

import (
	"net"
	"time"

	"github.com/technoratimedia/pbs-technorati/pbsmetrics"
)

const keepAlivePeriod = 3 * time.Minute

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln *tcpKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(keepAlivePeriod)
	return tc, nil
}

type monitorableConnection struct {
	net.Conn
	metrics pbsmetrics.MetricsEngine
}

type monitorableListener struct {
	*net.TCPListener
	metrics pbsmetrics.MetricsEngine
}

func (l *monitorableConnection) Close() error {
	err := l.Conn.Close()
	l.metrics.RecordConnectionClose(err == nil)
	return err
}

func (ln *monitorableListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		ln.metrics.RecordConnectionAccept(false)
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(keepAlivePeriod)
	ln.metrics.RecordConnectionAccept(true)
	return &monitorableConnection{
		tc,
		ln.metrics,
	}, nil
}
