// Package wsbridge implements the WebSocket upgrade hand-off: once the
// classifier/reverse-proxy pipeline decides a request is a WebSocket
// upgrade bound for the origin, this package dials the origin's endpoint
// descriptor, performs the handshake carrying the client's
// Sec-WebSocket-Protocol and Cookie headers plus a synthesized Origin
// header, and pumps frames in both directions until either side closes.
// Sec-WebSocket-Key/Version are generated afresh by the dialer, and the
// client's Sec-WebSocket-Extensions header is not forwarded.
//
// Built on the gorilla/websocket Dialer/Upgrader API, generalized from a
// single fixed backend into a per-request dial descriptor; see
// DESIGN.md for why this replaces a whole-connection byte-copying
// reverse proxy.
package wsbridge

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
)

// forwardedRequestHeaders are copied from the inbound request onto the
// outbound handshake; gorilla/websocket's Dialer manages
// Sec-WebSocket-Key/Version/Accept itself.
var forwardedRequestHeaders = []string{
	"Sec-WebSocket-Protocol",
	"Cookie",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Bridge upgrades the inbound connection, dials the origin endpoint
// descriptor, and forwards frames bidirectionally until either peer
// closes. originURLPath is the origin-space request path the bridge
// dials; proxyOrigin is the value synthesized for the outbound Origin
// header.
func Bridge(w http.ResponseWriter, r *http.Request, descriptor casconfig.EndpointDescriptor, tlsConfig *tls.Config, originURLPath, proxyOrigin string) error {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "failed to upgrade client connection")
	}
	defer clientConn.Close()

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsConfig,
	}
	if descriptor.Host() != "" {
		addr := descriptor.Address()
		dialer.NetDial = func(network, _ string) (net.Conn, error) {
			return net.DialTimeout(network, addr, 10*time.Second)
		}
	}

	scheme := "ws"
	if descriptor.IsTLS() {
		scheme = "wss"
	}
	targetURL := scheme + "://" + descriptor.Address() + originURLPath

	requestHeader := http.Header{}
	requestHeader.Set("Origin", proxyOrigin)
	for _, name := range forwardedRequestHeaders {
		if v := r.Header.Get(name); v != "" {
			requestHeader.Set(name, v)
		}
	}

	originConn, resp, err := dialer.Dial(targetURL, requestHeader)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return errors.Wrap(err, "failed to dial origin WebSocket endpoint")
	}
	defer originConn.Close()

	done := make(chan struct{}, 2)
	go pump(originConn, clientConn, done)
	go pump(clientConn, originConn, done)
	<-done
	return nil
}

// pump copies frames from src to dst until either an error or a close
// frame ends the connection, then signals done so the other direction's
// pump (and the caller) can unwind.
func pump(dst, src *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			return
		}
	}
}
