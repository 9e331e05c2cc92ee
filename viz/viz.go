// Package viz sends fire-and-forget OSC messages to an oscilloscope-style
// visualizer. Every send is queued on a worker goroutine, so callers never
// wait on the network and delivery is not acknowledged.
package viz

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"github.com/azzeloof/oscar-language/internal/queue"
)

// Prefix is the root of every address the client sends to.
const Prefix = "/oscar"

// Parameter names, as used in addresses and by Set.
const (
	ParamThickness   = "thickness"
	ParamSamples     = "samples"
	ParamPersistence = "persistence"
	ParamColor       = "color"
	ParamBlur        = "blur"
	ParamAlphaScale  = "alpha_scale"
	ParamScale       = "scale"
)

// Params lists the per-channel parameters.
var Params = []string{ParamThickness, ParamSamples, ParamPersistence, ParamColor, ParamBlur, ParamAlphaScale}

// Sender delivers one OSC packet. *osc.Client satisfies it.
type Sender interface {
	Send(packet osc.Packet) error
}

// Client sends visualizer commands.
type Client struct {
	sender Sender
	q      *queue.Queue
	logger *slog.Logger
}

// Dial creates a client sending UDP datagrams to addr (host:port).
func Dial(addr string, logger *slog.Logger) (*Client, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing viz address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing viz port %q", portStr)
	}
	return New(osc.NewClient(host, port), logger), nil
}

// New creates a client over sender and starts its send queue.
func New(sender Sender, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	q := queue.New(256)
	q.OnError = func(err error) {
		logger.Warn("viz: send failed", "err", err)
	}
	q.Start()
	return &Client{sender: sender, q: q, logger: logger}
}

// Flush blocks until every message queued before the call has been handed
// to the sender.
func (c *Client) Flush() error {
	return errors.Wrap(c.q.RunSync(func(context.Context) error { return nil }), "flushing viz queue")
}

// Close sends what is queued and stops the send queue.
func (c *Client) Close() {
	if err := c.Flush(); err != nil {
		c.logger.Debug("viz: close without flush", "err", err)
	}
	c.q.Close()
}

// Address returns the OSC address of a per-channel parameter.
func Address(ch int, param string) string {
	return fmt.Sprintf("%s/%d/%s", Prefix, ch, param)
}

func (c *Client) send(addr string, arg interface{}) error {
	msg := osc.NewMessage(addr, arg)
	err := c.q.TryEnqueue(queue.Func(func(ctx context.Context) error {
		return errors.Wrapf(c.sender.Send(msg), "sending %s", addr)
	}))
	return errors.Wrapf(err, "queueing %s", addr)
}

func checkChannel(ch int) error {
	if ch < 0 {
		return errors.Errorf("invalid channel %d", ch)
	}
	return nil
}

func (c *Client) sendChannel(ch int, param string, arg interface{}) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return c.send(Address(ch, param), arg)
}

// Thickness sets the trace thickness of a channel.
func (c *Client) Thickness(ch int, v float32) error {
	return c.sendChannel(ch, ParamThickness, v)
}

// Samples sets how many samples of a channel are retained.
func (c *Client) Samples(ch int, n int32) error {
	return c.sendChannel(ch, ParamSamples, n)
}

// Persistence sets the trace persistence strength.
func (c *Client) Persistence(ch int, v float32) error {
	return c.sendChannel(ch, ParamPersistence, v)
}

// Color sets the trace color as packed 0xRRGGBBAA.
func (c *Client) Color(ch int, rgba uint32) error {
	return c.sendChannel(ch, ParamColor, int32(rgba))
}

// Blur sets the trace blur.
func (c *Client) Blur(ch int, v float32) error {
	return c.sendChannel(ch, ParamBlur, v)
}

// AlphaScale sets the alpha scaling of a channel.
func (c *Client) AlphaScale(ch int, v float32) error {
	return c.sendChannel(ch, ParamAlphaScale, v)
}

// Scale sets the overall display scale.
func (c *Client) Scale(v float32) error {
	return c.send(Prefix+"/"+ParamScale, v)
}

// Set parses value for param and sends it. Colors accept #RRGGBBAA,
// 0xRRGGBBAA or decimal. ch is ignored for ParamScale.
func (c *Client) Set(ch int, param, value string) error {
	switch param {
	case ParamSamples:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "samples %q", value)
		}
		return c.Samples(ch, int32(n))
	case ParamColor:
		rgba, err := ParseColor(value)
		if err != nil {
			return err
		}
		return c.Color(ch, rgba)
	}

	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return errors.Wrapf(err, "%s %q", param, value)
	}
	v := float32(f)
	switch param {
	case ParamThickness:
		return c.Thickness(ch, v)
	case ParamPersistence:
		return c.Persistence(ch, v)
	case ParamBlur:
		return c.Blur(ch, v)
	case ParamAlphaScale:
		return c.AlphaScale(ch, v)
	case ParamScale:
		return c.Scale(v)
	}
	return errors.Errorf("unknown viz parameter %q", param)
}

// ParseColor parses #RRGGBBAA, 0xRRGGBBAA or a decimal integer. Six hex
// digits get an opaque alpha.
func ParseColor(s string) (uint32, error) {
	hex := ""
	switch {
	case strings.HasPrefix(s, "#"):
		hex = s[1:]
	case strings.HasPrefix(strings.ToLower(s), "0x"):
		hex = s[2:]
	}
	if hex == "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "color %q", s)
		}
		return uint32(v), nil
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return 0, errors.Errorf("color %q: want 6 or 8 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "color %q", s)
	}
	return uint32(v), nil
}
