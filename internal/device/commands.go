// Package device provides typed wrappers for the device commands built on top
// of the session and object handle layers.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/object"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// Method names of the supported commands.
const (
	MethodKeepAlive         = "global.keepAlive"
	MethodCurrentTime       = "global.getCurrentTime"
	MethodProductDefinition = "magicBox.getProductDefinition"
	MethodSetConfig         = "configManager.setConfig"
	MethodReboot            = "magicBox.reboot"
	MethodNTPSync           = "netApp.adjustTimeWithNTP"
	MethodScreenDisplay     = "trafficParking.setScreenDisplay"
	MethodVoiceBroadcast    = "trafficParking.setVoiceBroadcast"
	MethodTestSpaceLight    = "trafficParking.testSpaceLight"
	MethodOpenStrobe        = "trafficSnap.openStrobe"
	MethodCloseStrobe       = "trafficSnap.closeStrobe"

	// TrafficTable is the record table holding plate capture events.
	TrafficTable = "TrafficSnapEventInfo"
)

// Defaults taken from stock device behaviour.
const (
	DefaultKeepAliveTimeout = 300
	DefaultFindCount        = 50000
)

// Commands issues device commands through a Sender. Each command is one
// envelope round trip whose result must be truthy.
type Commands struct {
	sender  interfaces.Sender
	logger  *logging.Logger
	retries int
}

// Option configures Commands.
type Option func(*Commands)

// WithRetries retries read-only commands up to n extra times on retryable
// transport errors. Commands that change device state are never retried.
func WithRetries(n int) Option {
	return func(c *Commands) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Commands) {
		if l != nil {
			c.logger = l
		}
	}
}

// New wraps sender.
func New(sender interfaces.Sender, opts ...Option) *Commands {
	c := &Commands{sender: sender, logger: logging.GetProtocolLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call is a raw pass-through: it sends method with params and an optional
// object and returns the full reply after checking the result.
func (c *Commands) Call(ctx context.Context, method string, params any, obj protocol.Handle) (*protocol.Response, error) {
	resp, err := c.sender.Send(ctx, protocol.Call{Method: method, Params: params, Object: obj})
	if err != nil {
		return nil, err
	}
	if _, err := protocol.AssertTruthy(resp, method); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Commands) exec(ctx context.Context, method string, params any) error {
	_, err := c.Call(ctx, method, params, protocol.Handle{})
	return err
}

// query runs a read-only command, retrying transient transport failures.
func (c *Commands) query(ctx context.Context, method string, params any) (*protocol.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		resp, err := c.Call(ctx, method, params, protocol.Handle{})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var pe *protocol.ProtocolError
		if !errors.As(err, &pe) || !pe.IsRetryable() || attempt == c.retries {
			break
		}
		c.logger.Warn("Retrying device query", "method", method, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}
	return nil, lastErr
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt+1) * 250 * time.Millisecond
}

type keepAliveParams struct {
	Timeout int  `json:"timeout"`
	Active  bool `json:"active"`
}

// KeepAlive extends the session lifetime on the device by timeout seconds.
func (c *Commands) KeepAlive(ctx context.Context, timeout int, active bool) error {
	if timeout <= 0 {
		return fmt.Errorf("keep-alive timeout must be positive, got %d", timeout)
	}
	_, err := c.query(ctx, MethodKeepAlive, keepAliveParams{Timeout: timeout, Active: active})
	return err
}

// ProductDefinition returns the params of magicBox.getProductDefinition for
// the named definition, e.g. "Traffic".
func (c *Commands) ProductDefinition(ctx context.Context, name string) (json.RawMessage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("definition name cannot be empty")
	}
	resp, err := c.query(ctx, MethodProductDefinition, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return resp.Params, nil
}

// SetConfig applies a configManager.setConfig payload as given.
func (c *Commands) SetConfig(ctx context.Context, params any) error {
	if protocol.Absent(params) {
		return fmt.Errorf("config params cannot be nil")
	}
	return c.exec(ctx, MethodSetConfig, params)
}

// Reboot restarts the device.
func (c *Commands) Reboot(ctx context.Context) error {
	handle, err := object.Acquire(ctx, c.sender, "magicBox", "", object.Instance)
	if err != nil {
		return err
	}
	_, err = c.Call(ctx, MethodReboot, nil, handle)
	return err
}

// CurrentTime returns the device clock as reported, "2006-01-02 15:04:05".
func (c *Commands) CurrentTime(ctx context.Context) (string, error) {
	resp, err := c.query(ctx, MethodCurrentTime, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Time string `json:"time"`
	}
	if err := resp.DecodeParams(&out); err != nil {
		return "", err
	}
	if out.Time == "" {
		return "", &protocol.ProtocolError{
			Kind:     protocol.KindProtocolShape,
			Method:   MethodCurrentTime,
			Message:  "reply has no params.time",
			Response: resp,
		}
	}
	return out.Time, nil
}

// NTPConfig points the device at a time server.
type NTPConfig struct {
	Address  string `json:"Address"`
	Port     int    `json:"Port"`
	TimeZone string `json:"TimeZone"`
}

// Validate checks the NTP parameters.
func (n NTPConfig) Validate() error {
	if strings.TrimSpace(n.Address) == "" {
		return fmt.Errorf("NTP address cannot be empty")
	}
	if n.Port <= 0 || n.Port > 65535 {
		return fmt.Errorf("NTP port %d out of range", n.Port)
	}
	return nil
}

// NTPSync adjusts the device clock against an NTP server.
func (c *Commands) NTPSync(ctx context.Context, cfg NTPConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	handle, err := object.Acquire(ctx, c.sender, "netApp", "", object.Instance)
	if err != nil {
		return err
	}
	_, err = c.Call(ctx, MethodNTPSync, cfg, handle)
	return err
}

type customText struct {
	Custom string `json:"Custom"`
}

// SetScreenDisplay shows text on the attached LED screen.
func (c *Commands) SetScreenDisplay(ctx context.Context, text string) error {
	return c.exec(ctx, MethodScreenDisplay, customText{Custom: text})
}

// SetVoiceBroadcast speaks text through the attached speaker.
func (c *Commands) SetVoiceBroadcast(ctx context.Context, text string) error {
	return c.exec(ctx, MethodVoiceBroadcast, customText{Custom: text})
}

// SpaceLight selects a parking space indicator and the state to test.
type SpaceLight struct {
	LightNo int    `json:"LightNo"`
	Color   string `json:"Color"`
	State   int    `json:"State"`
}

// DefaultSpaceLight blinks light 1 red.
var DefaultSpaceLight = SpaceLight{LightNo: 1, Color: "Red", State: 2}

// TestSpaceLight drives a parking space indicator.
func (c *Commands) TestSpaceLight(ctx context.Context, light SpaceLight) error {
	if light.LightNo <= 0 {
		return fmt.Errorf("light number must be positive, got %d", light.LightNo)
	}
	if light.Color == "" {
		return fmt.Errorf("light color cannot be empty")
	}
	return c.exec(ctx, MethodTestSpaceLight, light)
}

type strobeInfo struct {
	OpenType    string `json:"openType"`
	PlateNumber string `json:"plateNumber"`
}

// OpenStrobe raises the barrier. plate may be empty.
func (c *Commands) OpenStrobe(ctx context.Context, openType, plate string) error {
	if strings.TrimSpace(openType) == "" {
		return fmt.Errorf("open type cannot be empty")
	}
	return c.exec(ctx, MethodOpenStrobe, map[string]strobeInfo{
		"info": {OpenType: openType, PlateNumber: plate},
	})
}

// CloseStrobe lowers the barrier.
func (c *Commands) CloseStrobe(ctx context.Context) error {
	return c.exec(ctx, MethodCloseStrobe, nil)
}

// TrafficRecords returns up to limit capture events between from and to.
func (c *Commands) TrafficRecords(ctx context.Context, from, to time.Time, limit int) (object.FindResult, error) {
	if to.Before(from) {
		return object.FindResult{}, fmt.Errorf("time range end %s is before start %s", to, from)
	}
	if limit <= 0 {
		limit = DefaultFindCount
	}
	finder, err := object.OpenFinder(ctx, c.sender, TrafficTable)
	if err != nil {
		return object.FindResult{}, err
	}
	if err := finder.StartFind(ctx, object.TimeRange(from, to)); err != nil {
		return object.FindResult{}, err
	}
	return finder.Next(ctx, limit)
}
