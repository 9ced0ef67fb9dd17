package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/qcserver/internal/config"
	"github.com/zeusync/qcserver/internal/core/observability/log"
)

const (
	transportQUIC = "quic"

	// ALPN is the protocol name the QUIC feed negotiates.
	ALPN = "qc-feed"
)

// quicSink writes length-prefixed frames on a unidirectional stream.
type quicSink struct {
	conn    *quic.Conn
	stream  io.WriteCloser
	timeout time.Duration
	header  [4]byte
}

func (q *quicSink) WriteFrame(data []byte) error {
	if q.timeout > 0 {
		if d, ok := q.stream.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = d.SetWriteDeadline(time.Now().Add(q.timeout))
		}
	}
	binary.BigEndian.PutUint32(q.header[:], uint32(len(data)))
	if _, err := q.stream.Write(q.header[:]); err != nil {
		return err
	}
	_, err := q.stream.Write(data)
	return err
}

func (q *quicSink) Close() error {
	_ = q.stream.Close()
	return q.conn.CloseWithError(0, "closed")
}

type quicFeed struct {
	addr    string
	tls     *tls.Config
	quic    *quic.Config
	timeout time.Duration
	hub     *Hub
	logger  log.Log
}

func newQUICFeed(cfg config.Server, hub *Hub, logger log.Log) (*quicFeed, error) {
	tlsConf, err := feedTLSConfig(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, err
	}
	return &quicFeed{
		addr: cfg.QUICAddr,
		tls:  tlsConf,
		quic: &quic.Config{
			MaxIdleTimeout:        30 * time.Second,
			KeepAlivePeriod:       10 * time.Second,
			MaxIncomingStreams:    -1,
			MaxIncomingUniStreams: -1,
		},
		timeout: cfg.WriteTimeout,
		hub:     hub,
		logger:  logger.With(log.String("transport", transportQUIC)),
	}, nil
}

func (f *quicFeed) listen() (*quic.Listener, error) {
	ln, err := quic.ListenAddr(f.addr, f.tls, f.quic)
	if err != nil {
		return nil, fmt.Errorf("start QUIC listener: %w", err)
	}
	f.logger.Info("QUIC listening", log.String("addr", ln.Addr().String()))
	return ln, nil
}

// serve accepts connections until ctx is done.
func (f *quicFeed) serve(ctx context.Context, ln *quic.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept QUIC connection: %w", err)
		}
		go f.handle(ctx, conn)
	}
}

func (f *quicFeed) handle(ctx context.Context, conn *quic.Conn) {
	sub, err := f.hub.Admit(transportQUIC)
	if err != nil {
		_ = conn.CloseWithError(1, err.Error())
		return
	}

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		f.logger.Debug("Failed to open stream",
			log.String("remote_addr", conn.RemoteAddr().String()),
			log.Error(err))
		f.hub.Remove(sub)
		_ = conn.CloseWithError(1, "stream")
		return
	}

	go func() {
		select {
		case <-conn.Context().Done():
			sub.Close()
		case <-sub.Done():
		}
	}()

	_ = f.hub.Serve(sub, &quicSink{conn: conn, stream: stream, timeout: f.timeout})
}

// ReadFrame reads one length-prefixed frame from a QUIC feed stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func feedTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if certFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	} else {
		cert, err = selfSignedCert()
	}
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// selfSignedCert makes a throwaway certificate for localhost.
func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"qcserver"}},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
