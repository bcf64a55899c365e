package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/websocket"
)

// Transport is a line-oriented connection to the chat server.
// The Session's driver goroutine is the only caller of ReadLine and
// WriteLine, implementations do not need to support concurrent use.
type Transport interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// DialFunc establishes a Transport. It is injectable to make the
// session testable without a network.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// DialWebsocket is the default DialFunc, connecting via a websocket
// that carries one protocol line per text frame.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadLine(ctx context.Context) (string, error) {
	msgType, data, err := t.conn.Read(ctx)
	if err != nil {
		return "", err
	}

	if msgType != websocket.MessageText {
		return "", fmt.Errorf("received unexpected message type: %v", msgType)
	}

	return strings.TrimRight(string(data), "\r\n"), nil
}

func (t *wsTransport) WriteLine(ctx context.Context, line string) error {
	return t.conn.Write(ctx, websocket.MessageText, []byte(line))
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
