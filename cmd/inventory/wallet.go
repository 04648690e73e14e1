package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/fatih/color"
	gorillaWS "github.com/gorilla/websocket"

	"github.com/megayours/pfp-inventory/internal/wallet"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

// walletLink answers the gateway's sign requests for one tab with a local key. The
// gateway never sees the key; it only receives signatures over the tab's socket.
type walletLink struct {
	conn   *gorillaWS.Conn
	signer wallet.Provider
	out    io.Writer

	mu   sync.Mutex
	done chan struct{}
}

func websocketURL(apiURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/") + "/api/v1/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dialWallet(apiURL, token string, signer wallet.Provider, out io.Writer) (*walletLink, error) {
	wsURL, err := websocketURL(apiURL, token)
	if err != nil {
		return nil, err
	}
	conn, _, err := gorillaWS.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect wallet socket: %w", err)
	}
	l := &walletLink{conn: conn, signer: signer, out: out, done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

func (l *walletLink) readLoop() {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg websocket.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case websocket.MessageTypeSignRequest:
			l.sign(msg.Payload)
		case websocket.MessageTypeError:
			var p websocket.ErrorPayload
			if json.Unmarshal(msg.Payload, &p) == nil {
				color.New(color.FgRed).Fprintf(l.out, "gateway: %s\n", p.Message)
			}
		}
	}
}

func (l *walletLink) sign(payload json.RawMessage) {
	var req websocket.SignRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	resp := websocket.SignResponsePayload{RequestID: req.RequestID}
	message, err := hex.DecodeString(strings.TrimPrefix(req.Message, "0x"))
	if err != nil {
		resp.Error = err.Error()
	} else if sig, err := l.signer.PersonalSign(context.Background(), message); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Signature = "0x" + hex.EncodeToString(sig)
		color.New(color.Faint).Fprintf(l.out, "signed request %s\n", req.RequestID)
	}
	l.write(websocket.MessageTypeSignResponse, resp)
}

func (l *walletLink) write(msgType websocket.MessageType, payload interface{}) {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.WriteMessage(gorillaWS.TextMessage, data)
}

func (l *walletLink) Close() {
	l.mu.Lock()
	l.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
	l.mu.Unlock()
	l.conn.Close()
	<-l.done
}
