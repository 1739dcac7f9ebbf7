// Package automation implements the browser-facing automation surface over
// the Chrome DevTools Protocol.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
	"github.com/undetectlabs/mimic/internal/behavior"
)

// CDPSurface implements behavior.Surface by dispatching raw CDP input
// events. Raw dispatch, rather than chromedp's Click/SendKeys actions,
// keeps full control of event pacing in the simulator's hands.
//
// Every method expects ctx to be a chromedp context for a live target.
type CDPSurface struct {
	log *zap.Logger

	mu           sync.Mutex
	lastX, lastY float64
}

var _ behavior.Surface = (*CDPSurface)(nil)

// NewCDPSurface creates a surface. The pointer starts at the origin until
// the first move.
func NewCDPSurface(logger *zap.Logger) *CDPSurface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CDPSurface{log: logger.Named("cdp")}
}

// PointerMove dispatches a mouseMoved event and remembers the position for
// subsequent button and wheel events.
func (s *CDPSurface) PointerMove(ctx context.Context, x, y float64) error {
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("cdp: mouse move: %w", err)
	}
	s.mu.Lock()
	s.lastX, s.lastY = x, y
	s.mu.Unlock()
	return nil
}

// PointerDown presses the left button at the last moved-to position.
func (s *CDPSurface) PointerDown(ctx context.Context) error {
	x, y := s.position()
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("cdp: mouse press: %w", err)
	}
	return nil
}

// PointerUp releases the left button at the last moved-to position.
func (s *CDPSurface) PointerUp(ctx context.Context) error {
	x, y := s.position()
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("cdp: mouse release: %w", err)
	}
	return nil
}

// KeyDown dispatches keyDown for the rune; printable characters also get
// the char event that triggers text insertion, matching what a physical
// press emits before release.
func (s *CDPSurface) KeyDown(ctx context.Context, key rune) error {
	spec := specForKey(key)
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := keyEvent(input.KeyDown, spec).Do(ctx); err != nil {
			return err
		}
		if spec.print {
			char := keyEvent(input.KeyChar, spec).
				WithText(spec.text).
				WithUnmodifiedText(spec.unmodified)
			return char.Do(ctx)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("cdp: key down %q: %w", key, err)
	}
	return nil
}

// KeyUp dispatches the matching keyUp for the rune.
func (s *CDPSurface) KeyUp(ctx context.Context, key rune) error {
	spec := specForKey(key)
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return keyEvent(input.KeyUp, spec).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("cdp: key up %q: %w", key, err)
	}
	return nil
}

// keyEvent builds a dispatch carrying the key identity shared by the down,
// char and up events of one press.
func keyEvent(typ input.KeyType, spec keySpec) *input.DispatchKeyEventParams {
	ev := input.DispatchKeyEvent(typ).
		WithKey(spec.key).
		WithCode(spec.code).
		WithWindowsVirtualKeyCode(spec.windows).
		WithNativeVirtualKeyCode(spec.native)
	if spec.shift {
		ev = ev.WithModifiers(input.ModifierShift)
	}
	return ev
}

// ScrollBy dispatches a wheel event at the current pointer position.
func (s *CDPSurface) ScrollBy(ctx context.Context, dx, dy float64) error {
	x, y := s.position()
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(dx).
			WithDeltaY(dy).
			Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("cdp: scroll: %w", err)
	}
	return nil
}

// Wait pauses for d, returning early with the context's error on
// cancellation.
func (s *CDPSurface) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return chromedp.Run(ctx, chromedp.Sleep(d))
}

// ElementBounds resolves the selector's border box in viewport coordinates.
// Returns (nil, nil) when no visible match exists, so callers can treat
// "not there" separately from transport failure.
func (s *CDPSurface) ElementBounds(ctx context.Context, selector string) (*schemas.Rect, error) {
	script := fmt.Sprintf(`
        (function(sel) {
            const node = document.querySelector(sel);
            if (!node) return null;
            const rect = node.getBoundingClientRect();
            const style = window.getComputedStyle(node);
            const visible = rect.width > 0 && rect.height > 0 &&
                style.display !== 'none' && style.visibility !== 'hidden';
            if (!visible) return null;
            return { x: rect.left, y: rect.top, width: rect.width, height: rect.height };
        })(%s)`, jsonEncode(selector))

	var res json.RawMessage
	err := chromedp.Run(ctx, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("cdp: element bounds for %q: %w", selector, err)
	}
	if string(res) == "null" {
		s.log.Debug("selector matched nothing visible", zap.String("selector", selector))
		return nil, nil
	}

	var rect schemas.Rect
	if err := json.Unmarshal(res, &rect); err != nil {
		return nil, fmt.Errorf("cdp: decoding bounds for %q: %w", selector, err)
	}
	return &rect, nil
}

// ViewportSize reads the CSS visual viewport dimensions.
func (s *CDPSurface) ViewportSize(ctx context.Context) (schemas.Size, error) {
	var size schemas.Size
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, cssVisualViewport, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		if cssVisualViewport == nil {
			return fmt.Errorf("layout metrics returned no visual viewport")
		}
		size = schemas.Size{
			Width:  cssVisualViewport.ClientWidth,
			Height: cssVisualViewport.ClientHeight,
		}
		return nil
	}))
	if err != nil {
		return schemas.Size{}, fmt.Errorf("cdp: viewport size: %w", err)
	}
	return size, nil
}

func (s *CDPSurface) position() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastX, s.lastY
}

// jsonEncode safely embeds a value (especially strings) into injected JS.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
