package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames on every UI tick; a frozen frame means the view
// itself has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Pulse lights up when an event arrives and fades over ten seconds.
type Pulse struct {
	level     int
	lastEvent time.Time
}

const pulseWidth = 5

func (p *Pulse) OnEvent(at time.Time) {
	p.level = pulseWidth
	p.lastEvent = at
}

// Decay lowers the level by one step per two seconds of silence.
func (p *Pulse) Decay(now time.Time) {
	if p.level == 0 {
		return
	}
	steps := int(now.Sub(p.lastEvent) / (2 * time.Second))
	p.level = max(pulseWidth-steps, 0)
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.level {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastEvent() time.Time {
	return p.lastEvent
}
