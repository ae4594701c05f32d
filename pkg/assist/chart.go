package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Render defaults.
const (
	DefaultChartWidth  = 800
	DefaultChartHeight = 500
	DefaultChartFormat = "png"
)

// DefaultDebounce is the quiet period before a chart preview renders.
const DefaultDebounce = 500 * time.Millisecond

// CommandChartRenderer renders charts with an external command that reads
// one JSON request on stdin and writes {"image": ...} or {"error": ...} on
// stdout.
type CommandChartRenderer struct {
	Command []string
	Timeout time.Duration
}

var _ ChartRenderer = (*CommandChartRenderer)(nil)

// Render implements ChartRenderer.
func (r *CommandChartRenderer) Render(ctx context.Context, req ChartRequest) (*Chart, error) {
	if len(r.Command) == 0 {
		return nil, &TransportError{Op: "render chart", Err: errors.New("no chart command configured")}
	}
	if req.Width <= 0 {
		req.Width = DefaultChartWidth
	}
	if req.Height <= 0 {
		req.Height = DefaultChartHeight
	}
	if req.Format == "" {
		req.Format = DefaultChartFormat
	}
	if req.Data == nil {
		req.Data = []map[string]any{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, r.Command[0], r.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	var resp struct {
		Image string `json:"image"`
		Error string `json:"error"`
	}
	// The renderer reports its own failures on stdout, even with a
	// non-zero exit.
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err == nil && resp.Error != "" {
		return nil, &TransportError{Op: "render chart", Err: errors.New(resp.Error)}
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := runErr.Error()
		if first := strings.SplitN(strings.TrimSpace(stderr.String()), "\n", 2)[0]; first != "" {
			msg += ": " + first
		}
		return nil, &TransportError{Op: "render chart", Err: errors.New(msg)}
	}
	if resp.Image == "" {
		return nil, &TransportError{Op: "render chart", Err: errors.New("renderer returned no image")}
	}
	return &Chart{Image: resp.Image, Format: req.Format}, nil
}

// ChartPreview keeps the latest rendered chart of one pipeline. Requests
// are debounced; a render already running is not cancelled, but its result
// is dropped if a newer render began meanwhile.
type ChartPreview struct {
	renderer ChartRenderer
	debounce *Debouncer
	onUpdate func(*Chart, error)
	logger   *slog.Logger

	mu    sync.Mutex
	chart *Chart
	err   error
}

// NewChartPreview returns a preview rendering through r. onUpdate, when
// set, is called after each applied render.
func NewChartPreview(r ChartRenderer, quiet time.Duration, onUpdate func(*Chart, error)) *ChartPreview {
	return &ChartPreview{
		renderer: r,
		debounce: NewDebouncer(quiet, nil),
		onUpdate: onUpdate,
		logger:   slog.Default(),
	}
}

// Request schedules a render of req.
func (p *ChartPreview) Request(req ChartRequest) {
	p.debounce.Trigger(func(t Token) {
		chart, err := p.renderer.Render(context.Background(), req)
		applyErr := p.debounce.Slot().Apply(t, func() error {
			p.mu.Lock()
			p.chart, p.err = chart, err
			p.mu.Unlock()
			return nil
		})
		if errors.Is(applyErr, ErrStale) {
			p.logger.Debug("dropping stale chart render", "token", t)
			return
		}
		if p.onUpdate != nil {
			p.onUpdate(chart, err)
		}
	})
}

// Latest returns the last applied render and its error, if any.
func (p *ChartPreview) Latest() (*Chart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chart, p.err
}

// Stop drops a pending render.
func (p *ChartPreview) Stop() { p.debounce.Stop() }
