package endpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	mapsync "github.com/dgnsrekt/mapsync/internal/sync"
	"github.com/dgnsrekt/mapsync/internal/view"
)

// Script runs a line-oriented list of simulated user actions against an
// endpoint. Blank lines and lines starting with '#' are skipped.
//
//	drag <dx> <dy> [steps]         pan by pixels as a pointer drag
//	zoom <delta>                   wheel zoom by delta levels
//	jump <lat> <lng> <zoom>        user move without a pointer
//	render <lat> <lng> [zoom]      programmatic move, never broadcast
//	render zoom <zoom>             programmatic zoom around the centre
//	event <type> <json>            feed an event to the engine
//	interaction on|off             enable or disable user interaction
//	view                           print the current view
//	wait <duration>                pause, e.g. "wait 250ms"
type Script struct {
	e   *Endpoint
	out io.Writer
	// Sleep pauses between actions. It defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewScript(e *Endpoint, out io.Writer) *Script {
	return &Script{e: e, out: out, Sleep: sleep}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes every line of r in order and stops at the first failing one.
func (s *Script) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.exec(ctx, text); err != nil {
			return fmt.Errorf("script line %d %q: %w", line, text, err)
		}
	}
	return scanner.Err()
}

func (s *Script) exec(ctx context.Context, text string) error {
	cmd, rest, _ := strings.Cut(text, " ")
	args := strings.Fields(rest)
	m := s.e.Map()

	s.e.logger.Debug("script action", zap.String("action", text))

	switch cmd {
	case "drag":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: drag <dx> <dy> [steps]")
		}
		dx, dy, err := parsePair(args[0], args[1])
		if err != nil {
			return err
		}
		steps := 1
		if len(args) == 3 {
			if steps, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("invalid steps %q", args[2])
			}
		}
		return m.Drag(dx, dy, steps)

	case "zoom":
		if len(args) != 1 {
			return fmt.Errorf("usage: zoom <delta>")
		}
		delta, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid zoom delta %q", args[0])
		}
		return m.Wheel(delta)

	case "jump":
		if len(args) != 3 {
			return fmt.Errorf("usage: jump <lat> <lng> <zoom>")
		}
		center, err := parseLatLng(args[0], args[1])
		if err != nil {
			return err
		}
		zoom, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid zoom %q", args[2])
		}
		return m.Jump(center, zoom)

	case "render":
		c, err := parseCondition(args)
		if err != nil {
			return err
		}
		s.e.Engine().Render(c)
		return nil

	case "event":
		eventType, payload, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok || strings.TrimSpace(payload) == "" {
			return fmt.Errorf("usage: event <type> <json>")
		}
		s.e.Engine().HandleEvent(eventType, []byte(strings.TrimSpace(payload)))
		return nil

	case "interaction":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: interaction on|off")
		}
		m.SetInteraction(args[0] == "on")
		return nil

	case "view":
		snap := m.View()
		_, err := fmt.Fprintf(s.out, "center=%s zoom=%d bounds=%s\n", snap.Center, snap.Zoom, snap.Bounds)
		return err

	case "wait":
		if len(args) != 1 {
			return fmt.Errorf("usage: wait <duration>")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q", args[0])
		}
		return s.Sleep(ctx, d)

	default:
		return fmt.Errorf("unknown action %q", cmd)
	}
}

func parseCondition(args []string) (mapsync.Condition, error) {
	if len(args) == 2 && args[0] == "zoom" {
		zoom, err := strconv.Atoi(args[1])
		if err != nil {
			return mapsync.Condition{}, fmt.Errorf("invalid zoom %q", args[1])
		}
		return mapsync.Condition{Zoom: &zoom}, nil
	}
	if len(args) < 2 || len(args) > 3 {
		return mapsync.Condition{}, fmt.Errorf("usage: render <lat> <lng> [zoom] | render zoom <zoom>")
	}
	center, err := parseLatLng(args[0], args[1])
	if err != nil {
		return mapsync.Condition{}, err
	}
	c := mapsync.Condition{Center: &center}
	if len(args) == 3 {
		zoom, err := strconv.Atoi(args[2])
		if err != nil {
			return mapsync.Condition{}, fmt.Errorf("invalid zoom %q", args[2])
		}
		c.Zoom = &zoom
	}
	return c, nil
}

func parseLatLng(lat, lng string) (view.LatLng, error) {
	a, b, err := parsePair(lat, lng)
	if err != nil {
		return view.LatLng{}, err
	}
	return view.LatLng{Lat: a, Lng: b}, nil
}

func parsePair(a, b string) (float64, float64, error) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", a)
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", b)
	}
	return x, y, nil
}
