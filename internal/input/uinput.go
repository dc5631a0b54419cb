package input

import (
	"fmt"
	"sync"
	"time"

	"github.com/ThomasT75/uinput"

	"github.com/oxtvirt/pvinput/internal/logger"
)

// UinputKeyboard is the keyboard sink backed by a uinput virtual keyboard.
type UinputKeyboard struct {
	mu     sync.Mutex
	dev    uinput.Keyboard
	closed bool
}

// NewUinputKeyboard creates the virtual keyboard device.
func NewUinputKeyboard(path, name string) (*UinputKeyboard, error) {
	dev, err := uinput.CreateKeyboard(path, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	return &UinputKeyboard{dev: dev}, nil
}

func (k *UinputKeyboard) HasKey(code uint32) bool {
	return keyboardRange(code)
}

func (k *UinputKeyboard) Key(code uint32, pressed bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrSinkClosed
	}
	if pressed {
		return k.dev.KeyDown(int(code))
	}
	return k.dev.KeyUp(int(code))
}

func (k *UinputKeyboard) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.dev.Close()
}

// UinputPointer is the relative pointer sink backed by a uinput virtual
// mouse.
type UinputPointer struct {
	mu     sync.Mutex
	dev    uinput.Mouse
	closed bool

	btnWarn *logger.Limiter
}

// NewUinputPointer creates the virtual relative pointer device.
func NewUinputPointer(path, name string) (*UinputPointer, error) {
	dev, err := uinput.CreateMouse(path, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}
	return &UinputPointer{dev: dev, btnWarn: logger.NewLimiter(time.Second)}, nil
}

func (p *UinputPointer) HasKey(code uint32) bool {
	return pointerRange(code)
}

// Key injects a button transition. The device declares the whole
// BTN_LEFT..BTN_TASK block but the library only exposes the three standard
// buttons; the rest are reported and dropped.
func (p *UinputPointer) Key(code uint32, pressed bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSinkClosed
	}
	switch code {
	case BtnLeft:
		if pressed {
			return p.dev.LeftPress()
		}
		return p.dev.LeftRelease()
	case BtnRight:
		if pressed {
			return p.dev.RightPress()
		}
		return p.dev.RightRelease()
	case BtnMiddle:
		if pressed {
			return p.dev.MiddlePress()
		}
		return p.dev.MiddleRelease()
	default:
		if p.btnWarn.Allow() {
			logger.Warnf("dropping pointer button 0x%x: %v", code, ErrUnsupportedButton)
		}
		return nil
	}
}

func (p *UinputPointer) Move(dx, dy int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSinkClosed
	}
	if dx == 0 && dy == 0 {
		return nil
	}
	return p.dev.Move(dx, dy)
}

func (p *UinputPointer) Wheel(delta int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSinkClosed
	}
	return p.dev.Wheel(false, delta)
}

func (p *UinputPointer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.dev.Close()
}
