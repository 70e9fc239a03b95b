package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/warmpool/internal/domain"
)

type RenderOptions struct {
	Now        time.Time
	StaleAfter time.Duration
}

// Report is everything the status view shows: the persisted login state and,
// when a server was queried, its live pool snapshot.
type Report struct {
	State   domain.LoginState
	Pool    *domain.PoolSnapshot
	PoolErr string
}

func renderView(report Report, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("warmpool"),
		s.header.Render(fmt.Sprintf("registered accounts: %d", len(report.State.Accounts))),
		s.section.Render(renderCredential(report.State, opts, s)),
	}

	if len(report.State.Accounts) > 0 {
		lines = append(lines, s.section.Render(renderAccounts(report.State.Accounts, opts, s)))
	}

	switch {
	case report.Pool != nil:
		lines = append(lines, s.section.Render(renderPool(*report.Pool, s)))
	case report.PoolErr != "":
		lines = append(lines, s.section.Render(s.warning.Render("pool: "+report.PoolErr)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderCredential(state domain.LoginState, opts RenderOptions, s styles) string {
	if !state.HasCredential() {
		return s.empty.Render("No credential captured yet.")
	}

	parts := []string{
		s.label.Render("credential:") + " " + s.detail.Render(state.Fingerprint),
		s.label.Render("session:") + " " + s.detail.Render("#"+state.SessionID.String()) +
			"  " + s.label.Render("rotations:") + " " + s.detail.Render(fmt.Sprintf("%d", state.Rotations)),
	}

	captured := s.label.Render("captured:") + " " + s.meta.Render(formatCapturedAt(state.CapturedAt, opts.Now))
	if !opts.Now.IsZero() && opts.StaleAfter > 0 {
		age := state.Age(opts.Now)
		captured = lipgloss.JoinHorizontal(lipgloss.Top,
			captured,
			" ",
			renderFreshnessBar(age, opts.StaleAfter, 20, s),
		)
		if age > opts.StaleAfter {
			captured += " " + s.warning.Render("[stale]")
		}
	}
	parts = append(parts, captured)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderAccounts(accounts []domain.RegisteredAccount, opts RenderOptions, s styles) string {
	lines := make([]string, 0, len(accounts)+1)
	lines = append(lines, s.label.Render("accounts:"))
	for _, account := range accounts {
		line := "  " + s.detail.Render(account.Username)
		if strings.TrimSpace(account.Email) != "" {
			line += " " + s.meta.Render("<"+account.Email+">")
		}
		if !account.CreatedAt.IsZero() {
			line += " " + s.meta.Render("("+formatRelative(account.CreatedAt, opts.Now)+")")
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderPool(snapshot domain.PoolSnapshot, s styles) string {
	state := "warming"
	if snapshot.Initialized {
		state = "initialized"
	}

	lines := []string{
		s.label.Render("pool:") + " " + s.detail.Render(fmt.Sprintf("%s (%s)", snapshot.Mode, state)) +
			"  " + s.label.Render("rotations:") + " " + s.detail.Render(fmt.Sprintf("%d", snapshot.Rotations)),
	}
	if len(snapshot.Sessions) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, append(lines, s.empty.Render("  no live sessions"))...)
	}

	snapshot.NormalizeSessions()
	for _, session := range snapshot.Sessions {
		lines = append(lines, "  "+sessionLine(session, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sessionLine(session domain.SessionSnapshot, s styles) string {
	roleStyle := s.standby
	switch {
	case session.State == domain.StateDead:
		roleStyle = s.dead
	case session.Role == domain.RoleActive:
		roleStyle = s.active
	}

	line := roleStyle.Render(fmt.Sprintf("#%s %s", session.ID, session.Role)) +
		" " + s.detail.Render(string(session.State)) +
		" " + s.meta.Render(fmt.Sprintf("in-flight %d", session.InFlight))
	if session.Fingerprint != "" {
		line += " " + s.meta.Render(session.Fingerprint)
	}
	return line
}

// renderFreshnessBar fills in proportion to how much of staleAfter is left.
func renderFreshnessBar(age, staleAfter time.Duration, width int, s styles) string {
	if width <= 0 || staleAfter <= 0 {
		return ""
	}

	left := 1 - age.Seconds()/staleAfter.Seconds()
	filled := int(math.Round(float64(width) * clampFraction(left)))
	fill := lipgloss.NewStyle().Foreground(interpolateColor(clampFraction(left), 0, 1))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.bracket.Render("["),
		fill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.bracket.Render("]"),
	)
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatCapturedAt(capturedAt, now time.Time) string {
	if capturedAt.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return capturedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s (%s)", formatRelative(capturedAt, now), capturedAt.Format("15:04 on 02 Jan"))
}

func formatRelative(at, now time.Time) string {
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	elapsed := now.Sub(at)
	if elapsed < time.Minute {
		return "just now"
	}
	if elapsed < time.Hour {
		return plural(int(elapsed.Minutes()), "minute") + " ago"
	}
	if elapsed < 24*time.Hour {
		return plural(int(elapsed.Hours()), "hour") + " ago"
	}
	return plural(int(elapsed.Hours()/24), "day") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// interpolateColor maps value onto the 240..255 greyscale ramp.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	return lipgloss.Color(fmt.Sprintf("%d", int(240+15*normalized)))
}
