package testutil

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/megayours/pfp-inventory/internal/wallet"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

// WSClient is a test tab connection. With a wallet attached it answers sign_request
// messages the way a browser wallet would; every other message is queued for the test.
type WSClient struct {
	t        *testing.T
	conn     *gorillaWS.Conn
	messages chan *websocket.Message
	errors   chan error
	done     chan struct{}
	mu       sync.Mutex

	wallet     atomic.Pointer[walletMode]
	signed     atomic.Int32
	signPrompt chan websocket.SignRequestPayload
}

type walletMode struct {
	provider wallet.Provider
	reject   bool
	silent   bool
}

// NewWSClient dials url and starts reading.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	dialer := *gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to websocket: %v", err)
	}

	client := &WSClient{
		t:          t,
		conn:       conn,
		messages:   make(chan *websocket.Message, 100),
		errors:     make(chan error, 10),
		done:       make(chan struct{}),
		signPrompt: make(chan websocket.SignRequestPayload, 10),
	}

	go client.readPump()

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// SignWith answers every sign_request with provider's signature.
func (c *WSClient) SignWith(provider wallet.Provider) *WSClient {
	c.wallet.Store(&walletMode{provider: provider})
	return c
}

// RejectSigning answers every sign_request with a user rejection.
func (c *WSClient) RejectSigning() *WSClient {
	c.wallet.Store(&walletMode{reject: true})
	return c
}

// IgnoreSigning leaves sign_request messages unanswered.
func (c *WSClient) IgnoreSigning() *WSClient {
	c.wallet.Store(&walletMode{silent: true})
	return c
}

// Signed is the number of sign requests answered with a signature.
func (c *WSClient) Signed() int { return int(c.signed.Load()) }

// SignRequests delivers every sign_request seen, answered or not.
func (c *WSClient) SignRequests() <-chan websocket.SignRequestPayload { return c.signPrompt }

func (c *WSClient) readPump() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			case c.errors <- err:
			default:
			}
			return
		}

		var msg websocket.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.errors <- err
			continue
		}

		if msg.Type == websocket.MessageTypeSignRequest {
			if c.handleSignRequest(&msg) {
				continue
			}
		}

		select {
		case c.messages <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) handleSignRequest(msg *websocket.Message) bool {
	mode := c.wallet.Load()
	if mode == nil {
		return false
	}
	var req websocket.SignRequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.errors <- err
		return true
	}
	select {
	case c.signPrompt <- req:
	default:
	}
	if mode.silent {
		return true
	}

	resp := websocket.SignResponsePayload{RequestID: req.RequestID}
	switch {
	case mode.reject:
		resp.Rejected = true
	default:
		message, err := hex.DecodeString(req.Message)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		sig, err := mode.provider.PersonalSign(context.Background(), message)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Signature = "0x" + hex.EncodeToString(sig)
		c.signed.Add(1)
	}
	c.Send(websocket.MessageTypeSignResponse, resp)
	return true
}

// Send writes one message to the server.
func (c *WSClient) Send(msgType websocket.MessageType, payload interface{}) {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		c.errors <- err
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.errors <- err
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(gorillaWS.TextMessage, data); err != nil {
		select {
		case c.errors <- err:
		default:
		}
	}
}

// Close closes the WebSocket connection gracefully
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
		c.conn.Close()
	}
}

// ExpectMessage waits for a message of the specified type, skipping others.
func (c *WSClient) ExpectMessage(msgType websocket.MessageType, timeout time.Duration) *websocket.Message {
	c.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.messages:
			if msg == nil {
				c.t.Fatalf("connection closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg
			}
		case err := <-c.errors:
			c.t.Fatalf("error while waiting for %s: %v", msgType, err)
		case <-deadline:
			c.t.Fatalf("timeout waiting for message type %s", msgType)
		}
	}
}

// ExpectPayload waits for msgType and decodes its payload into v.
func (c *WSClient) ExpectPayload(msgType websocket.MessageType, v interface{}, timeout time.Duration) {
	c.t.Helper()

	msg := c.ExpectMessage(msgType, timeout)
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.t.Fatalf("failed to decode %s payload: %v", msgType, err)
	}
}

// ExpectMatching waits until a message of msgType satisfies match.
func (c *WSClient) ExpectMatching(msgType websocket.MessageType, match func(payload json.RawMessage) bool, timeout time.Duration) *websocket.Message {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timeout waiting for matching %s", msgType)
		}
		msg := c.ExpectMessage(msgType, remaining)
		if match(msg.Payload) {
			return msg
		}
	}
}

// ExpectNoMessage verifies no messages are received within timeout
func (c *WSClient) ExpectNoMessage(timeout time.Duration) {
	c.t.Helper()

	select {
	case msg := <-c.messages:
		if msg != nil {
			c.t.Fatalf("unexpected message received: %s", msg.Type)
		}
	case <-time.After(timeout):
	}
}

// DrainMessages discards buffered messages until the channel has been quiet for 50ms.
func (c *WSClient) DrainMessages() {
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-c.messages:
			if msg == nil {
				return
			}
			deadline = time.After(50 * time.Millisecond)
		case <-deadline:
			return
		case <-c.done:
			return
		}
	}
}
