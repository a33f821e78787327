// Package input turns authorized action commands into host input effects.
//
// Controller validates every parameter against the closed sets the protocol
// allows and hands the normalized effect to a Driver. Drivers are the only
// place that touches the operating system.
package input

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidButton  = errors.New("invalid mouse button")
	ErrInvalidAction  = errors.New("invalid key action")
	ErrInvalidKey     = errors.New("invalid key")
	ErrUnknownCommand = errors.New("unsupported media command")
)

type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

type Action string

const (
	ActionDown Action = "down"
	ActionUp   Action = "up"
)

// mediaKeys maps protocol media commands to driver key names.
var mediaKeys = map[string]string{
	"play_pause": "playpause",
	"next":       "nexttrack",
	"prev":       "prevtrack",
	"vol_up":     "volumeup",
	"vol_down":   "volumedown",
	"mute":       "volumemute",
}

// Executor performs one host effect per action message type.
type Executor interface {
	MouseMove(dx, dy float64) error
	MouseClick(button, action string) error
	MouseScroll(dx, dy float64) error
	Keypress(key, action string) error
	Media(command string) error
}

// Driver is the platform backend behind a Controller. Arguments are already
// validated and normalized.
type Driver interface {
	MoveRelative(dx, dy float64) error
	Button(button Button, action Action) error
	Scroll(vertical, horizontal int) error
	Key(key string, action Action) error
	Press(key string) error
}

type Controller struct {
	driver Driver
}

func NewController(driver Driver) *Controller {
	return &Controller{driver: driver}
}

func (c *Controller) MouseMove(dx, dy float64) error {
	return c.driver.MoveRelative(dx, dy)
}

func (c *Controller) MouseClick(button, action string) error {
	b, err := parseButton(button)
	if err != nil {
		return err
	}
	a, err := parseAction(action)
	if err != nil {
		return err
	}
	return c.driver.Button(b, a)
}

// MouseScroll truncates deltas to whole steps; an axis with zero steps is not sent.
func (c *Controller) MouseScroll(dx, dy float64) error {
	v, h := int(dy), int(dx)
	if v == 0 && h == 0 {
		return nil
	}
	return c.driver.Scroll(v, h)
}

func (c *Controller) Keypress(key, action string) error {
	a, err := parseAction(action)
	if err != nil {
		return err
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ErrInvalidKey
	}
	return c.driver.Key(key, a)
}

func (c *Controller) Media(command string) error {
	key, ok := mediaKeys[command]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return c.driver.Press(key)
}

func parseButton(s string) (Button, error) {
	switch b := Button(s); b {
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidButton, s)
}

func parseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionDown, ActionUp:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

var _ Executor = (*Controller)(nil)
