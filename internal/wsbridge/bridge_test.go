package wsbridge

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardcollege/txcasproxy/internal/casconfig"
)

// TestBridgeForwardsFramesAndSynthesizedOrigin is scenario S6: the
// handshake dialed out to the origin carries the synthesized
// wss://p.example/socket Origin header, and frames written by the client
// reach the origin and vice versa.
func TestBridgeForwardsFramesAndSynthesizedOrigin(t *testing.T) {
	originHeaderCh := make(chan string, 1)
	originUpgrader := websocket.Upgrader{}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHeaderCh <- r.Header.Get("Origin")
		conn, err := originUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(messageType, payload)
	}))
	defer origin.Close()

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)
	host := originURL.Hostname()
	port, err := strconv.Atoi(originURL.Port())
	require.NoError(t, err)

	descriptor, err := casconfig.ParseEndpointDescriptor(
		casconfig.BuildDialDescriptor(false, host, port))
	require.NoError(t, err)

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := Bridge(w, r, descriptor, nil, "/socket", "wss://p.example/socket")
		assert.NoError(t, err)
	}))
	defer proxy.Close()

	clientURL := "ws" + strings.TrimPrefix(proxy.URL, "http") + "/socket"
	clientConn, _, err := websocket.DefaultDialer.Dial(clientURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	select {
	case got := <-originHeaderCh:
		assert.Equal(t, "wss://p.example/socket", got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for origin handshake")
	}

	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, []byte("hello")))
	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(payload))
}

func TestIsWebSocketUpgraderConfigured(t *testing.T) {
	assert.NotNil(t, upgrader.CheckOrigin)
	assert.True(t, upgrader.CheckOrigin(httptest.NewRequest(http.MethodGet, "/", nil)))
}
