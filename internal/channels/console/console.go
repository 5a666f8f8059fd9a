package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jesspig/micro-agent/internal/bus"
)

const chatID = "local"

// Console is the stdin/stdout channel. One line is one message; replies
// are printed to stdout.
type Console struct {
	router bus.MessageRouter
	in     io.Reader
	out    io.Writer

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func New(router bus.MessageRouter) *Console {
	return &Console{router: router, in: os.Stdin, out: os.Stdout}
}

func (c *Console) Name() string { return "console" }

func (c *Console) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("console: already running")
	}
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(ctx)
	return nil
}

func (c *Console) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

func (c *Console) Send(msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "\n%s\n\n> ", msg.Content)
	return err
}

func (c *Console) readLoop(ctx context.Context) {
	defer close(c.done)

	cwd, _ := os.Getwd()
	fmt.Fprint(c.out, "> ")

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil || !c.IsRunning() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "> ")
			continue
		}
		c.router.PublishInbound(bus.InboundMessage{
			Channel:    c.Name(),
			SenderID:   "local",
			ChatID:     chatID,
			Content:    line,
			Timestamp:  time.Now(),
			CurrentDir: cwd,
		})
	}
}
