package server

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/snapshot"
)

func TestQUICFeed(t *testing.T) {
	cfg := testConfig()
	cfg.QUICAddr = "127.0.0.1:0"
	hub := NewHub(4, 4, nil, nil, nil)
	feed, err := newQUICFeed(cfg, hub, log.NewNop())
	require.NoError(t, err)
	ln, err := feed.listen()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- feed.serve(ctx, ln) }()

	conn, err := quic.DialAddr(ctx, ln.Addr().String(), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
	}, nil)
	require.NoError(t, err)
	defer conn.CloseWithError(0, "")

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	hub.Publish(1, 1, "start", states(3), nil)

	stream, err := conn.AcceptUniStream(ctx)
	require.NoError(t, err)
	data, err := ReadFrame(stream)
	require.NoError(t, err)
	f, err := snapshot.Decode(data)
	require.NoError(t, err)
	assert.True(t, f.Full)
	assert.Equal(t, "start", f.Map)
	require.Len(t, f.Entities, 1)
	assert.Equal(t, float32(3), f.Entities[0].Origin[0])

	hub.Publish(2, 1.1, "start", states(4), nil)
	data, err = ReadFrame(stream)
	require.NoError(t, err)
	f, err = snapshot.Decode(data)
	require.NoError(t, err)
	assert.False(t, f.Full)

	cancel()
	assert.NoError(t, <-served)
}

func TestFeedTLSConfigNeedsBothFiles(t *testing.T) {
	_, err := feedTLSConfig("missing.pem", "missing.key")
	assert.Error(t, err)

	conf, err := feedTLSConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{ALPN}, conf.NextProtos)
	require.Len(t, conf.Certificates, 1)
}
