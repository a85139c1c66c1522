package flow

import (
	"fmt"
	"time"

	"github.com/stephenadei/tutorbot/internal/models"
)

// PlanningBatchSize is the number of slots offered per planning prompt.
const PlanningBatchSize = 6

// Profile parameterizes candidate slot generation for a segment.
type Profile struct {
	Segment      models.Segment
	Duration     time.Duration
	StartHour    int // first lesson may start at this hour
	EndHour      int // last lesson must end by this hour
	MinLead      time.Duration
	BufferBefore time.Duration
	BufferAfter  time.Duration
	DaysAhead    int
	Step         time.Duration
	WeekendsOnly bool
	AllowWeekend bool
}

var profiles = map[models.Segment]Profile{
	models.SegmentNew: {
		Duration: time.Hour, StartHour: 10, EndHour: 20, MinLead: 720 * time.Minute,
		BufferBefore: 15 * time.Minute, BufferAfter: 15 * time.Minute, DaysAhead: 10, Step: 30 * time.Minute,
	},
	models.SegmentExisting: {
		Duration: time.Hour, StartHour: 9, EndHour: 21, MinLead: 360 * time.Minute,
		BufferBefore: 10 * time.Minute, BufferAfter: 10 * time.Minute, DaysAhead: 14, Step: 30 * time.Minute,
	},
	models.SegmentReturningBroadcast: {
		Duration: time.Hour, StartHour: 9, EndHour: 21, MinLead: 360 * time.Minute,
		BufferBefore: 10 * time.Minute, BufferAfter: 10 * time.Minute, DaysAhead: 14, Step: 30 * time.Minute,
	},
	models.SegmentWeekend: {
		Duration: time.Hour, StartHour: 10, EndHour: 18, MinLead: 180 * time.Minute,
		BufferBefore: 10 * time.Minute, BufferAfter: 10 * time.Minute, DaysAhead: 7, Step: 30 * time.Minute,
		WeekendsOnly: true, AllowWeekend: true,
	},
}

// ProfileFor returns the planning profile of seg; unknown segments plan as new.
func ProfileFor(seg models.Segment) Profile {
	p, ok := profiles[seg]
	if !ok {
		seg = models.SegmentNew
		p = profiles[seg]
	}
	p.Segment = seg
	return p
}

// Interval is a busy period on the tutor's calendar.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Candidates lists lesson start times for p from now on, in loc, skipping
// slots that overlap busy intervals widened by the profile's buffers.
func Candidates(p Profile, now time.Time, loc *time.Location, busy []Interval) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if p.Step <= 0 || p.Duration <= 0 {
		return nil
	}
	local := now.In(loc)
	earliest := now.Add(p.MinLead)
	var out []time.Time
	for d := 0; d <= p.DaysAhead; d++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+d, 0, 0, 0, 0, loc)
		weekend := day.Weekday() == time.Saturday || day.Weekday() == time.Sunday
		if (weekend && !p.AllowWeekend) || (!weekend && p.WeekendsOnly) {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), p.StartHour, 0, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), p.EndHour, 0, 0, 0, loc)
		for t := start; !t.Add(p.Duration).After(end); t = t.Add(p.Step) {
			if t.Before(earliest) || overlapsBusy(t, p, busy) {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

func overlapsBusy(t time.Time, p Profile, busy []Interval) bool {
	from := t.Add(-p.BufferBefore)
	to := t.Add(p.Duration + p.BufferAfter)
	for _, b := range busy {
		if from.Before(b.End) && b.Start.Before(to) {
			return true
		}
	}
	return false
}

var (
	weekdaysNL = [7]string{"zo", "ma", "di", "wo", "do", "vr", "za"}
	weekdaysEN = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	monthsNL   = [12]string{"jan", "feb", "mrt", "apr", "mei", "jun", "jul", "aug", "sep", "okt", "nov", "dec"}
	monthsEN   = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

// formatSlot renders a start time like "ma 12 okt 14:00" in lang.
func formatSlot(t time.Time, loc *time.Location, lang models.Language) string {
	if loc != nil {
		t = t.In(loc)
	}
	if lang == models.LanguageEnglish {
		return fmt.Sprintf("%s %d %s %s", weekdaysEN[t.Weekday()], t.Day(), monthsEN[t.Month()-1], t.Format("15:04"))
	}
	return fmt.Sprintf("%s %d %s %s", weekdaysNL[t.Weekday()], t.Day(), monthsNL[t.Month()-1], t.Format("15:04"))
}

// planningOptions builds one batch of slot options starting at offset.
// A "more options" entry is appended while more candidates remain.
func planningOptions(slots []time.Time, offset int, loc *time.Location, lang models.Language) []models.Option {
	if offset >= len(slots) {
		return nil
	}
	end := offset + PlanningBatchSize
	if end > len(slots) {
		end = len(slots)
	}
	opts := make([]models.Option, 0, end-offset+1)
	for _, t := range slots[offset:end] {
		opts = append(opts, models.Option{Label: formatSlot(t, loc, lang), Value: t.UTC().Format(time.RFC3339)})
	}
	if end < len(slots) {
		opts = append(opts, models.Option{Label: "➕ " + phrase(lang, promptPlanningMore), Value: planningMoreOptions})
	}
	return opts
}
