package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// console owns stdin and stdout. Each input line goes to a pending prompt if
// one is open, otherwise to the menu.
type console struct {
	out io.Writer
	omu sync.Mutex

	prompting atomic.Bool
	answers   chan string
	commands  chan string

	downloads string
	now       func() time.Time
}

func newConsole(in io.Reader, out io.Writer, downloads string) *console {
	c := &console{
		out:       out,
		answers:   make(chan string, 1),
		commands:  make(chan string, 16),
		downloads: downloads,
		now:       time.Now,
	}
	go c.readLines(in)
	return c
}

func (c *console) readLines(in io.Reader) {
	defer close(c.commands)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// An open prompt takes exactly one line
		if c.prompting.CompareAndSwap(true, false) {
			c.answers <- line
			continue
		}
		c.commands <- line
	}
}

func (c *console) printf(format string, args ...interface{}) {
	c.omu.Lock()
	defer c.omu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// readCommand waits for the next menu line. ok is false once stdin is done.
func (c *console) readCommand(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-c.commands:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// ask prints a question and reads the answer as a menu line
func (c *console) ask(ctx context.Context, question string) (string, bool) {
	c.printf("%s", question)
	return c.readCommand(ctx)
}

const invalidAnswer = "Invalid Option, Please enter Yes or No"

// Confirm asks a yes/no question, case-insensitive, and asks again until
// it gets one of the two.
func (c *console) Confirm(ctx context.Context, prompt string) (bool, error) {
	select {
	case <-c.answers:
	default:
	}
	defer c.prompting.Store(false)

	c.printf("\n%s\n", prompt)
	for {
		c.prompting.Store(true)
		c.printf("> ")

		select {
		case line := <-c.answers:
			switch {
			case strings.EqualFold(line, "yes"):
				return true, nil
			case strings.EqualFold(line, "no"):
				return false, nil
			}
			c.printf("%s\n", invalidAnswer)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (c *console) ShowText(from, text string, broadcast bool) {
	if broadcast {
		c.printf("\n[%s to all] %s\n", from, text)
		return
	}
	c.printf("\n[%s] %s\n", from, text)
}

func (c *console) ShowImage(from string, image []byte) {
	path, err := c.saveImage(from, image)
	if err != nil {
		log.WithError(err).WithField("from", from).Error("Could not save image")
		c.printf("\nReceived an image from %s but could not save it\n", from)
		return
	}
	c.printf("\nImage from %s saved to %s\n", from, path)
}

func (c *console) ShowNotice(text string) {
	c.printf("\nRelay: %s\n", text)
}

func (c *console) saveImage(from string, image []byte) (string, error) {
	if err := os.MkdirAll(c.downloads, 0755); err != nil {
		return "", oops.In("client").With("dir", c.downloads).Wrapf(err, "create downloads directory")
	}

	ext := mimetype.Detect(image).Extension()
	if ext == "" || ext == ".txt" {
		ext = ".bin"
	}
	name := fmt.Sprintf("%s_%s%s", filepath.Base(from), c.now().Format("20060102-150405.000"), ext)
	path := filepath.Join(c.downloads, name)

	if err := os.WriteFile(path, image, 0644); err != nil {
		return "", oops.In("client").With("path", path).Wrapf(err, "write image")
	}
	return path, nil
}
