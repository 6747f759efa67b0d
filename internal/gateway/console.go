package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ConsoleGateway reads commands line by line and prints replies and
// notifications. It serves a single chat.
type ConsoleGateway struct {
	In      io.Reader
	Out     io.Writer
	Handler Handler
	ChatID  string

	mu      sync.Mutex
	stopped bool
}

func NewConsoleGateway(in io.Reader, out io.Writer, chatID string, handler Handler) *ConsoleGateway {
	return &ConsoleGateway{In: in, Out: out, ChatID: chatID, Handler: handler}
}

// Start returns on EOF, /quit or after Stop.
func (c *ConsoleGateway) Start() error {
	scanner := bufio.NewScanner(c.In)
	for scanner.Scan() {
		if c.isStopped() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" || line == "/exit" {
			return nil
		}
		reply := ReplyText(c.Handler.Handle(context.Background(), c.ChatID, line))
		if reply != "" {
			_ = c.Send(c.ChatID, reply)
		}
	}
	return scanner.Err()
}

func (c *ConsoleGateway) Send(chatID string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.Out, text)
	return err
}

func (c *ConsoleGateway) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *ConsoleGateway) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
