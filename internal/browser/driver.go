package browser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/humanize"
)

// Site DOM selectors. The move list uses custom elements (rm6, l4x,
// kwdb) whose tag names have been stable across site releases.
const (
	selBoardContainer = "main.round cg-container"
	selMoveInputReady = "main.round input.ready"
	selMoveInputAny   = "main.round input"
	selMoveNodes      = "rm6 kwdb"
	selMoveNodesLoose = "kwdb"
	selOrientWhite    = ".orientation-white"
	selGameOver       = ".follow-up"
	selResultPara     = "rm6 l4x div p"
	selClockBottom    = "div.rclock.rclock-bottom"
	selClockTop       = "div.rclock.rclock-top"
)

// Path segments that mean the URL is not a playable game.
var nonGamePathMarkers = []string{"/tournament", "/study", "/training", "/swiss", "/lobby"}

const (
	readyProbeTimeoutMs  = 2000.0
	inputActionTimeoutMs = 5000.0
)

// Driver implements board.Controller against the live page. It holds no
// DOM state of its own: every call resolves elements fresh, so a session
// restart invalidates nothing.
type Driver struct {
	session *Session
	delays  *humanize.Delays
	logger  *zap.Logger
}

// NewDriver builds a board driver on top of a session. delays may be nil
// to move at machine speed.
func NewDriver(session *Session, delays *humanize.Delays, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{session: session, delays: delays, logger: logger}
}

func (d *Driver) page() (playwright.Page, error) {
	p := d.session.Page()
	if p == nil || p.IsClosed() {
		return nil, board.ErrSessionLost
	}
	return p, nil
}

// classify maps raw playwright failures onto the board error taxonomy so
// the retry layer can tell a dead session from a flaky element.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "has been closed") || strings.Contains(msg, "target closed"):
		return fmt.Errorf("%v: %w", err, board.ErrSessionLost)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%v: %w", err, board.ErrElementNotFound)
	}
	return err
}

// WaitUntilReady probes once for a playable board: a game URL, the board
// container and the move input. The caller polls, so the probe is
// bounded rather than blocking.
func (d *Driver) WaitUntilReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := d.page()
	if err != nil {
		return err
	}
	if matchIDFromURL(page.URL()) == "" {
		return fmt.Errorf("%w: not on a game page", board.ErrNotReady)
	}
	state := playwright.WaitForSelectorState("attached")
	timeout := readyProbeTimeoutMs
	if _, err := page.WaitForSelector(selBoardContainer, playwright.PageWaitForSelectorOptions{
		State:   &state,
		Timeout: &timeout,
	}); err != nil {
		return fmt.Errorf("%w: board container missing", board.ErrNotReady)
	}
	if _, err := d.moveInputSelector(page); err != nil {
		return fmt.Errorf("%w: move input missing", board.ErrNotReady)
	}
	return nil
}

// moveInputSelector finds the keyboard move entry field, preferring the
// focused variant and falling back to any input inside the round frame.
func (d *Driver) moveInputSelector(page playwright.Page) (string, error) {
	for _, sel := range []string{selMoveInputReady, selMoveInputAny} {
		el, err := page.QuerySelector(sel)
		if err != nil {
			return "", classify(err)
		}
		if el != nil {
			return sel, nil
		}
	}
	return "", fmt.Errorf("%w: move input", board.ErrElementNotFound)
}

// DetermineSide reads the board orientation. The container carries an
// orientation-white class exactly when we sit on the white side.
func (d *Driver) DetermineSide(ctx context.Context) (board.Side, error) {
	if err := ctx.Err(); err != nil {
		return board.SideWhite, err
	}
	page, err := d.page()
	if err != nil {
		return board.SideWhite, err
	}
	return d.orientation(page)
}

func (d *Driver) orientation(page playwright.Page) (board.Side, error) {
	el, err := page.QuerySelector(selOrientWhite)
	if err != nil {
		return board.SideWhite, classify(err)
	}
	if el != nil {
		return board.SideWhite, nil
	}
	return board.SideBlack, nil
}

// ReadMoveAt returns the move text at the 1-based ply, "" when that ply
// has not been played. A short move list is not an error: polling for a
// move the opponent has not made yet is the normal case.
func (d *Driver) ReadMoveAt(ctx context.Context, ply int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ply < 1 {
		return "", fmt.Errorf("ply %d out of range", ply)
	}
	page, err := d.page()
	if err != nil {
		return "", err
	}
	nodes, err := page.QuerySelectorAll(selMoveNodes)
	if err != nil {
		return "", classify(err)
	}
	if len(nodes) == 0 {
		nodes, err = page.QuerySelectorAll(selMoveNodesLoose)
		if err != nil {
			return "", classify(err)
		}
	}
	if len(nodes) < ply {
		return "", nil
	}
	text, err := nodes[ply-1].TextContent()
	if err != nil {
		return "", classify(err)
	}
	return normalizeMoveText(text), nil
}

// normalizeMoveText trims a move cell, treating the "..." placeholder
// the interface shows for an elided half-move as an empty slot.
func normalizeMoveText(text string) string {
	text = strings.TrimSpace(text)
	if text == "..." {
		return ""
	}
	return text
}

// RemainingSeconds reads the clock for side. The bottom clock belongs to
// whoever the board is oriented for. Untimed games have no clock widget
// at all, reported as ok=false.
func (d *Driver) RemainingSeconds(ctx context.Context, side board.Side) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	page, err := d.page()
	if err != nil {
		return 0, false, err
	}
	orient, err := d.orientation(page)
	if err != nil {
		return 0, false, err
	}
	sel := selClockBottom
	if side != orient {
		sel = selClockTop
	}
	el, err := page.QuerySelector(sel)
	if err != nil {
		return 0, false, classify(err)
	}
	if el == nil {
		return 0, false, nil
	}
	text, err := el.TextContent()
	if err != nil {
		return 0, false, classify(err)
	}
	seconds, ok := parseClock(text)
	if !ok {
		return 0, false, nil
	}
	return seconds, true, nil
}

// parseClock converts clock widget text to seconds. The widget nests
// tenths in a child element, so raw text can arrive as "0:45\n.9".
func parseClock(text string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	if cleaned == "" {
		return 0, false
	}
	parts := strings.Split(cleaned, ":")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case 2:
		m, errM := strconv.Atoi(parts[0])
		s, errS := strconv.ParseFloat(parts[1], 64)
		if errM != nil || errS != nil {
			return 0, false
		}
		return float64(m)*60 + s, true
	case 3:
		h, errH := strconv.Atoi(parts[0])
		m, errM := strconv.Atoi(parts[1])
		s, errS := strconv.ParseFloat(parts[2], 64)
		if errH != nil || errM != nil || errS != nil {
			return 0, false
		}
		return float64(h)*3600 + float64(m)*60 + s, true
	}
	return 0, false
}

// moveInputFallbackJS commits a move by mutating the input directly and
// dispatching the events the site listens for. Used when the regular
// fill path fails, typically because the input is clipped out of view.
const moveInputFallbackJS = `({ selector, move }) => {
	const input = document.querySelector(selector);
	if (!input) {
		throw new Error("move input not found: " + selector);
	}
	input.value = move;
	input.dispatchEvent(new Event("input", { bubbles: true }));
	const form = input.closest("form");
	if (form) {
		form.dispatchEvent(new Event("submit", { bubbles: true }));
	} else {
		input.dispatchEvent(new KeyboardEvent("keydown", { key: "Enter", keyCode: 13, bubbles: true }));
	}
}`

// ExecuteMove types a UCI move into the entry field. remaining feeds the
// typing-phase pacing; pass a negative value when no clock was read.
func (d *Driver) ExecuteMove(ctx context.Context, uci string, remaining float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := d.page()
	if err != nil {
		return err
	}
	if d.delays != nil {
		if err := d.delays.Sleep(ctx, humanize.PhaseMoving, remaining); err != nil {
			return err
		}
	}
	if _, err := page.Evaluate(clearArrowJS); err != nil {
		d.logger.Debug("indicator_clear_failed", zap.Error(err))
	}

	sel, err := d.moveInputSelector(page)
	if err != nil {
		return err
	}
	timeout := inputActionTimeoutMs
	if err := page.Click(sel, playwright.PageClickOptions{Timeout: &timeout}); err != nil {
		d.logger.Debug("input_click_failed", zap.Error(err))
	}
	fillErr := page.Fill(sel, uci, playwright.PageFillOptions{Timeout: &timeout})
	if fillErr == nil {
		fillErr = page.Press(sel, "Enter", playwright.PagePressOptions{Timeout: &timeout})
	}
	if fillErr == nil {
		return nil
	}

	d.logger.Warn("move_input_blocked", zap.String("move", uci), zap.Error(fillErr))
	if _, jsErr := page.Evaluate(moveInputFallbackJS, map[string]any{
		"selector": sel,
		"move":     uci,
	}); jsErr != nil {
		return fmt.Errorf("enter move %s: %w", uci, classify(fillErr))
	}
	return nil
}

// IsGameOver reports whether the post-game panel is on screen.
func (d *Driver) IsGameOver(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	page, err := d.page()
	if err != nil {
		return false, err
	}
	el, err := page.QuerySelector(selGameOver)
	if err != nil {
		return false, classify(err)
	}
	return el != nil, nil
}

// ReadResult reads the score line and the stated reason from the result
// block the site appends to the move list.
func (d *Driver) ReadResult(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	page, err := d.page()
	if err != nil {
		return "", "", err
	}
	nodes, err := page.QuerySelectorAll(selResultPara)
	if err != nil {
		return "", "", classify(err)
	}
	if len(nodes) == 0 {
		return "", "", fmt.Errorf("%w: result panel", board.ErrElementNotFound)
	}
	score, err := nodes[0].TextContent()
	if err != nil {
		return "", "", classify(err)
	}
	var reason string
	if len(nodes) > 1 {
		if text, err := nodes[1].TextContent(); err == nil {
			reason = strings.TrimSpace(text)
		}
	}
	return strings.TrimSpace(score), reason, nil
}

// drawArrowJS paints the suggestion arrow onto the board's SVG overlay.
// Coordinates are in board space: the overlay viewBox is 8x8 centered on
// the origin, so squares land on half-integer offsets.
const drawArrowJS = `({ x1, y1, x2, y2 }) => {
	const svgNS = "http://www.w3.org/2000/svg";
	const defs = document.getElementsByTagName("defs")[0];
	if (defs && !document.getElementById("hint-arrowhead")) {
		const marker = document.createElementNS(svgNS, "marker");
		marker.setAttribute("id", "hint-arrowhead");
		marker.setAttribute("orient", "auto");
		marker.setAttribute("markerWidth", "3");
		marker.setAttribute("markerHeight", "6");
		marker.setAttribute("refX", "1.5");
		marker.setAttribute("refY", "1.5");
		const head = document.createElementNS(svgNS, "path");
		head.setAttribute("d", "M0,0 L0,3 L3,1.5 Z");
		head.setAttribute("fill", "rgba(255,170,0,0.9)");
		marker.appendChild(head);
		defs.appendChild(marker);
	}
	const g = document.getElementsByTagName("g")[0];
	if (!g) {
		throw new Error("board overlay layer missing");
	}
	g.innerHTML = "";
	const line = document.createElementNS(svgNS, "line");
	line.setAttribute("stroke", "rgba(255,170,0,0.85)");
	line.setAttribute("stroke-width", "0.18");
	line.setAttribute("stroke-linecap", "round");
	line.setAttribute("marker-end", "url(#hint-arrowhead)");
	line.setAttribute("x1", x1);
	line.setAttribute("y1", y1);
	line.setAttribute("x2", x2);
	line.setAttribute("y2", y2);
	g.appendChild(line);
	const origin = document.createElementNS(svgNS, "circle");
	origin.setAttribute("cx", x1);
	origin.setAttribute("cy", y1);
	origin.setAttribute("r", "0.15");
	origin.setAttribute("fill", "rgba(255,170,0,0.3)");
	origin.setAttribute("stroke", "rgba(255,170,0,0.6)");
	origin.setAttribute("stroke-width", "0.03");
	g.appendChild(origin);
}`

const clearArrowJS = `() => {
	const g = document.getElementsByTagName("g")[0];
	if (g) {
		g.textContent = "";
	}
}`

// DrawIndicator paints an arrow for the suggested move, oriented for
// whichever side we sit on.
func (d *Driver) DrawIndicator(ctx context.Context, uci string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := d.page()
	if err != nil {
		return err
	}
	orient, err := d.orientation(page)
	if err != nil {
		return err
	}
	coords, err := arrowCoords(uci, orient)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(drawArrowJS, map[string]any{
		"x1": coords[0],
		"y1": coords[1],
		"x2": coords[2],
		"y2": coords[3],
	}); err != nil {
		return fmt.Errorf("draw arrow: %w", classify(err))
	}
	return nil
}

// ClearIndicator removes the suggestion arrow if one is shown.
func (d *Driver) ClearIndicator(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	page, err := d.page()
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(clearArrowJS); err != nil {
		return fmt.Errorf("clear arrow: %w", classify(err))
	}
	return nil
}

// arrowCoords maps a UCI move to overlay line endpoints for the given
// orientation.
func arrowCoords(uci string, side board.Side) ([4]float64, error) {
	var coords [4]float64
	if len(uci) < 4 {
		return coords, fmt.Errorf("malformed move %q", uci)
	}
	x1, y1, err := squareOffset(uci[0:2], side)
	if err != nil {
		return coords, err
	}
	x2, y2, err := squareOffset(uci[2:4], side)
	if err != nil {
		return coords, err
	}
	coords = [4]float64{x1, y1, x2, y2}
	return coords, nil
}

// squareOffset converts an algebraic square to overlay coordinates,
// mirrored when we sit on the black side.
func squareOffset(square string, side board.Side) (float64, float64, error) {
	file, rank := square[0], square[1]
	if file < 'a' || file > 'h' || rank < '1' || rank > '8' {
		return 0, 0, fmt.Errorf("malformed square %q", square)
	}
	x := float64(file-'a') - 3.5
	y := 3.5 - float64(rank-'1')
	if side == board.SideBlack {
		x, y = -x, -y
	}
	return x, y, nil
}

// MatchID extracts the game identifier from the current URL, "" when the
// page is a lobby or some other non-game view.
func (d *Driver) MatchID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	page, err := d.page()
	if err != nil {
		return "", err
	}
	return matchIDFromURL(page.URL()), nil
}

// IsNewMatchID reports whether id has the shape of a playable match
// identifier. Distinguishing it from the match just played is the
// caller's job.
func (d *Driver) IsNewMatchID(id string) bool {
	return plausibleMatchID(id)
}

func matchIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	path := strings.TrimSuffix(u.Path, "/")
	if path == "" {
		return ""
	}
	lower := strings.ToLower(path)
	for _, marker := range nonGamePathMarkers {
		if strings.Contains(lower, marker) {
			return ""
		}
	}
	tail := path[strings.LastIndex(path, "/")+1:]
	if !plausibleMatchID(tail) {
		return ""
	}
	return tail
}

// plausibleMatchID accepts identifiers of at least eight alphanumerics,
// the shape game URLs use. Lobby and settings page tails are shorter or
// carry punctuation.
func plausibleMatchID(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
