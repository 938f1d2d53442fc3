package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/b0ase/kintsugi/internal/service"
	"github.com/b0ase/kintsugi/internal/transport/ws"
)

func newChatCmd() *cobra.Command {
	var addr, userID string
	cmd := &cobra.Command{
		Use:     "chat",
		Short:   "Join a session over websocket",
		Example: `  kintsugi chat --addr ws://localhost:8080/v1/sessions/sess_123/ws --user founder_1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialSession(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if err := client.hello(userID); err != nil {
				return err
			}
			fmt.Fprintf(out, "Joined %s as %s. Type a message and press Enter; /quit to exit.\n", client.sessionID, userID)

			go client.printMessages(out, userID)
			return client.sendLines(cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/v1/sessions/SESSION_ID/ws", "session websocket address")
	cmd.Flags().StringVar(&userID, "user", "", "participant id to chat as")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// chatClient is a websocket participant of one session.
type chatClient struct {
	conn      *websocket.Conn
	sessionID string
}

func dialSession(addr string) (*chatClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &chatClient{conn: conn}, nil
}

func (c *chatClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// hello identifies the user and waits for hello_ack.
func (c *chatClient) hello(userID string) error {
	msg := ws.HelloMessage{
		BaseMessage: ws.BaseMessage{Type: ws.TypeHello, Ts: time.Now().UnixMilli()},
		UserID:      userID,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	switch base.Type {
	case ws.TypeHelloAck:
		c.sessionID = base.SessionID
		return nil
	case ws.TypeError:
		var errMsg ws.ErrorMessage
		_ = json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	default:
		return fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}
}

// sendLines sends each non-empty input line as a chat turn.
func (c *chatClient) sendLines(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			return nil
		}
		msg := ws.ChatMessage{
			BaseMessage: ws.BaseMessage{
				Type:      ws.TypeChat,
				Ts:        time.Now().UnixMilli(),
				SessionID: c.sessionID,
				RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
			},
			Content: input,
		}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send chat: %w", err)
		}
	}
	return scanner.Err()
}

// printMessages renders server messages until the connection closes.
func (c *chatClient) printMessages(out io.Writer, self string) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			}
			return
		}
		renderMessage(out, data, self)
	}
}

func renderMessage(out io.Writer, data []byte, self string) {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}

	switch base.Type {
	case ws.TypeUserMessage:
		var msg ws.UserMessageMessage
		if json.Unmarshal(data, &msg) == nil && msg.SenderID != self {
			fmt.Fprintf(out, "\n[%s] %s\n", msg.SenderID, msg.Content)
		}
	case ws.TypeStream:
		var msg ws.StreamMessage
		if json.Unmarshal(data, &msg) != nil {
			return
		}
		switch msg.Event.Type {
		case service.StreamEventContent:
			fmt.Fprint(out, msg.Event.Content)
		case service.StreamEventToolCall:
			fmt.Fprintf(out, "\n(tool: %s)\n", msg.Event.ToolName)
		case service.StreamEventDone:
			fmt.Fprintln(out)
		}
	case ws.TypeError:
		var msg ws.ErrorMessage
		if json.Unmarshal(data, &msg) == nil {
			fmt.Fprintf(out, "\nerror (%s): %s\n", msg.Code, msg.Message)
		}
	}
}
