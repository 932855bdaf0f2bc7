// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package session

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/fieldstream/iec104-gateway/asdu"
)

// Option is a per-device session configuration: the device's network
// endpoint, its IEC-104 timer/flow-control settings, and ASDU params.
type Option struct {
	config     Config
	params     asdu.Params
	commonAddr asdu.CommonAddr
	server     *url.URL // device endpoint

	// DialContext allows supplying a custom dialer. If nil, net.Dialer is used.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)
	TLSConfig   *tls.Config
}

// NewOption returns an Option with the IEC-104 default Config and the wide
// ASDU Params (2-byte common address, 3-byte information object address).
func NewOption() *Option {
	return &Option{
		config: DefaultConfig(),
		params: *asdu.ParamsWide,
	}
}

// SetConfig installs cfg, falling back to DefaultConfig if cfg is invalid.
func (sf *Option) SetConfig(cfg Config) *Option {
	if err := cfg.Valid(); err != nil {
		sf.config = DefaultConfig()
	} else {
		sf.config = cfg
	}
	return sf
}

// SetParams installs p, falling back to asdu.ParamsWide if p is invalid.
func (sf *Option) SetParams(p *asdu.Params) *Option {
	if err := p.Valid(); err != nil {
		sf.params = *asdu.ParamsWide
	} else {
		sf.params = *p
	}
	return sf
}

// SetCommonAddr installs the ASDU common address (station address) used for
// every command this session originates.
func (sf *Option) SetCommonAddr(ca asdu.CommonAddr) *Option {
	sf.commonAddr = ca
	return sf
}

// SetTLSConfig installs a TLS config used when the endpoint scheme requires it.
func (sf *Option) SetTLSConfig(t *tls.Config) *Option {
	sf.TLSConfig = t
	return sf
}

// SetDialContext installs a custom dialer (e.g. an SSH jump host).
func (sf *Option) SetDialContext(dial func(ctx context.Context, network, address string) (net.Conn, error)) *Option {
	sf.DialContext = dial
	return sf
}

// SetEndpoint sets the device's network endpoint. The format should be
// scheme://host:port; default scheme is "tcp://" and default host is
// "127.0.0.1" when only ":port" is given.
func (sf *Option) SetEndpoint(endpoint string) error {
	if len(endpoint) > 0 && endpoint[0] == ':' {
		endpoint = "127.0.0.1" + endpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "tcp://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	sf.server = u
	return nil
}

func openConnection(ctx context.Context, uri *url.URL, tlsc *tls.Config, timeout time.Duration, dialCtx func(ctx context.Context, network, address string) (net.Conn, error)) (net.Conn, error) {
	if uri == nil {
		return nil, ErrNoEndpoint
	}
	addr := uri.Host
	if addr == "" {
		return nil, ErrNoEndpoint
	}
	if dialCtx == nil {
		d := &net.Dialer{Timeout: timeout}
		dialCtx = d.DialContext
	}
	switch uri.Scheme {
	case "tcp":
		return dialCtx(ctx, "tcp", addr)
	case "ssl", "tls", "tcps":
		rawConn, err := dialCtx(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tlsc == nil {
			tlsc = &tls.Config{}
		}
		_ = rawConn.SetDeadline(time.Now().Add(timeout))
		tlsConn := tls.Client(rawConn, tlsc)
		if err := tlsConn.Handshake(); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		_ = rawConn.SetDeadline(time.Time{})
		return tlsConn, nil
	}
	return nil, ErrUnknownScheme
}
