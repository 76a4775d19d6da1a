//go:build linux

package epd

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// BCM pin numbers from the Waveshare 7.5" HAT wiring.
const (
	bcmRST  = 17
	bcmDC   = 25
	bcmBUSY = 24
)

const planeSize = Width / 8 * Height

// Driver owns the SPI connection and control pins for the panel. Calls are
// expected to come sequentially from one goroutine.
type Driver struct {
	port spi.PortCloser
	conn spi.Conn

	rst  gpio.PinOut
	dc   gpio.PinOut
	busy gpio.PinIn
}

// Init initializes periph.io, opens the SPI bus, configures the control
// pins and runs the panel power-on sequence.
func Init(ctx context.Context) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	// Default SPI port; /dev/spidev0.0 on a Raspberry Pi.
	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port: %w", err)
	}

	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	pin := func(n int) gpio.PinIO {
		return gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	}

	d := &Driver{
		port: port,
		conn: conn,
		rst:  pin(bcmRST),
		dc:   pin(bcmDC),
		busy: pin(bcmBUSY),
	}
	if d.rst == nil || d.dc == nil || d.busy == nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to resolve GPIO pins")
	}

	if err := d.busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to configure BUSY pin: %w", err)
	}

	if err := d.panelInit(ctx); err != nil {
		_ = port.Close()
		return nil, err
	}

	return d, nil
}

// Close powers the panel down and releases the SPI port.
func (d *Driver) Close() error {
	_ = d.Sleep()
	return d.port.Close()
}

// reset pulses the RST pin per the panel datasheet.
func (d *Driver) reset() {
	_ = d.rst.Out(gpio.High)
	time.Sleep(20 * time.Millisecond)
	_ = d.rst.Out(gpio.Low)
	time.Sleep(2 * time.Millisecond)
	_ = d.rst.Out(gpio.High)
	time.Sleep(20 * time.Millisecond)
}

func (d *Driver) sendCommand(reg byte) error {
	_ = d.dc.Out(gpio.Low)
	return d.conn.Tx([]byte{reg}, nil)
}

func (d *Driver) sendData(data ...byte) error {
	_ = d.dc.Out(gpio.High)
	// SPI transfers are chunked; large planes exceed the kernel's default
	// transfer size.
	const chunk = 4096
	for len(data) > 0 {
		n := len(data)
		if n > chunk {
			n = chunk
		}
		if err := d.conn.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// waitIdle blocks until the panel clears BUSY or ctx expires. BUSY is
// active-low on this panel.
func (d *Driver) waitIdle(ctx context.Context) error {
	for d.busy.Read() == gpio.Low {
		select {
		case <-ctx.Done():
			return fmt.Errorf("epd: wait for idle canceled: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// panelInit runs the power-on register sequence for the 7.5" B panel.
func (d *Driver) panelInit(ctx context.Context) error {
	d.reset()

	steps := []struct {
		cmd  byte
		data []byte
	}{
		{0x01, []byte{0x07, 0x07, 0x3f, 0x3f}}, // power setting
		{0x04, nil},                            // power on
	}
	for _, s := range steps {
		if err := d.sendCommand(s.cmd); err != nil {
			return fmt.Errorf("epd: init command %#02x failed: %w", s.cmd, err)
		}
		if len(s.data) > 0 {
			if err := d.sendData(s.data...); err != nil {
				return fmt.Errorf("epd: init data for %#02x failed: %w", s.cmd, err)
			}
		}
	}
	if err := d.waitIdle(ctx); err != nil {
		return err
	}

	rest := []struct {
		cmd  byte
		data []byte
	}{
		{0x00, []byte{0x0f}},                   // panel setting: KWR mode
		{0x61, []byte{0x03, 0x20, 0x01, 0xe0}}, // resolution 800x480
		{0x15, []byte{0x00}},
		{0x50, []byte{0x11, 0x07}}, // VCOM and data interval
		{0x60, []byte{0x22}},       // TCON
	}
	for _, s := range rest {
		if err := d.sendCommand(s.cmd); err != nil {
			return fmt.Errorf("epd: init command %#02x failed: %w", s.cmd, err)
		}
		if err := d.sendData(s.data...); err != nil {
			return fmt.Errorf("epd: init data for %#02x failed: %w", s.cmd, err)
		}
	}

	return nil
}

// Clear flushes both planes to white and refreshes.
func (d *Driver) Clear(ctx context.Context) error {
	white := make([]byte, planeSize)
	for i := range white {
		white[i] = 0xFF
	}
	return d.Display(ctx, white, white)
}

// Display pushes packed black and red planes to the panel and triggers a
// full refresh. Both planes must be exactly Width/8*Height bytes.
func (d *Driver) Display(ctx context.Context, black, red []byte) error {
	if len(black) != planeSize || len(red) != planeSize {
		return fmt.Errorf("epd: plane size must be %d bytes, got black=%d red=%d", planeSize, len(black), len(red))
	}

	if err := d.sendCommand(0x10); err != nil {
		return fmt.Errorf("epd: black plane command failed: %w", err)
	}
	if err := d.sendData(black...); err != nil {
		return fmt.Errorf("epd: black plane transfer failed: %w", err)
	}

	// The red plane is inverted on the wire: 1 = red ink.
	inv := make([]byte, planeSize)
	for i, b := range red {
		inv[i] = ^b
	}
	if err := d.sendCommand(0x13); err != nil {
		return fmt.Errorf("epd: red plane command failed: %w", err)
	}
	if err := d.sendData(inv...); err != nil {
		return fmt.Errorf("epd: red plane transfer failed: %w", err)
	}

	if err := d.sendCommand(0x12); err != nil { // display refresh
		return fmt.Errorf("epd: refresh command failed: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	return d.waitIdle(ctx)
}

// Sleep puts the panel into deep sleep. The panel should sleep between
// refreshes; keeping the drive voltage up degrades it.
func (d *Driver) Sleep() error {
	if err := d.sendCommand(0x02); err != nil { // power off
		return fmt.Errorf("epd: power off failed: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.sendCommand(0x07); err != nil { // deep sleep
		return fmt.Errorf("epd: deep sleep command failed: %w", err)
	}
	return d.sendData(0xA5)
}
