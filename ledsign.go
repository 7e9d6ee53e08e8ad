package main

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/KR8MER/eas-station-sub002/same"
)

// LEDSignClient drives an Alpha-protocol LED message sign over serial or
// raw TCP, showing the active alert in the studio. Best effort: a dead
// sign never blocks the alert path.
type LEDSignClient struct {
	mu sync.Mutex

	mode   string // "serial" or "tcp"
	device string // port path or host:port
	baud   int
}

// NewLEDSignClient validates the transport choice; the connection itself
// is opened per message, signs power-cycle often.
func NewLEDSignClient(mode, device string, baud int) (*LEDSignClient, error) {
	switch mode {
	case "serial", "tcp":
	default:
		return nil, fmt.Errorf("%w: LED sign mode %q (want serial or tcp)", same.ErrConfig, mode)
	}
	if device == "" {
		return nil, fmt.Errorf("%w: LED sign device not set", same.ErrConfig)
	}
	if baud <= 0 {
		baud = 9600
	}
	return &LEDSignClient{mode: mode, device: device, baud: baud}, nil
}

// ShowAlert displays the event name and affected counties.
func (c *LEDSignClient) ShowAlert(alert *Alert) {
	if alert.EOM {
		c.Clear()
		return
	}
	text := alert.Header.EventDescription()
	if len(alert.Matched) > 0 {
		names := make([]string, 0, len(alert.Matched))
		for _, code := range alert.Matched {
			if desc, ok := fipsDescriptions[code]; ok {
				names = append(names, desc)
			} else {
				names = append(names, code)
			}
		}
		text += " - " + strings.Join(names, ", ")
	}
	if err := c.send(text); err != nil {
		log.Printf("[LEDSign] show failed: %v", err)
	}
}

// Clear blanks the sign, typically on EOM.
func (c *LEDSignClient) Clear() {
	if err := c.send(""); err != nil {
		log.Printf("[LEDSign] clear failed: %v", err)
	}
}

// send writes one Alpha protocol "write TEXT file A" frame.
func (c *LEDSignClient) send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := alphaFrame(text)
	switch c.mode {
	case "tcp":
		conn, err := net.DialTimeout("tcp", c.device, 5*time.Second)
		if err != nil {
			return fmt.Errorf("%w: dialing sign %s: %v", same.ErrHardware, c.device, err)
		}
		defer conn.Close()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, err = conn.Write(frame)
		return err
	default:
		mode := &serial.Mode{
			BaudRate: c.baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(c.device, mode)
		if err != nil {
			return fmt.Errorf("%w: opening sign port %s: %v", same.ErrHardware, c.device, err)
		}
		defer port.Close()
		_, err = port.Write(frame)
		return err
	}
}

// alphaFrame builds an Alpha sign protocol packet: NULs for baud sync,
// SOH, type+address "Z00", STX, write-text command into file A, EOT.
func alphaFrame(text string) []byte {
	var b []byte
	for i := 0; i < 5; i++ {
		b = append(b, 0x00)
	}
	b = append(b, 0x01)
	b = append(b, []byte("Z00")...)
	b = append(b, 0x02)
	b = append(b, []byte("AA")...)
	// Hold mode, top line.
	b = append(b, 0x1B, ' ', 'b')
	b = append(b, []byte(text)...)
	b = append(b, 0x04)
	return b
}
