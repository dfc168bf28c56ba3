package sequencer

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/resultlog"
)

// etaWindow is the number of recent frame times the ETA averages.
const etaWindow = 60

// progress prints one line per frame and estimates the time left.
type progress struct {
	w     io.Writer
	p     *message.Printer
	times []time.Duration
}

func newProgress(w io.Writer, tag language.Tag) *progress {
	if w == nil {
		w = io.Discard
	}
	return &progress{w: w, p: message.NewPrinter(tag)}
}

// observe records the duration of one live frame.
func (pr *progress) observe(d time.Duration) {
	if len(pr.times) == etaWindow {
		copy(pr.times, pr.times[1:])
		pr.times = pr.times[:etaWindow-1]
	}
	pr.times = append(pr.times, d)
}

// eta returns the mean recent frame time times remaining.
func (pr *progress) eta(remaining int) time.Duration {
	if len(pr.times) == 0 || remaining <= 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range pr.times {
		sum += d
	}
	return sum / time.Duration(len(pr.times)) * time.Duration(remaining)
}

// clock formats d as HH:MM:SS, truncating to whole seconds.
func clock(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

// frame prints the progress line of a finished frame.
func (pr *progress) frame(frame uint32, r tilematch.PosResult, took time.Duration, remaining, excludedPct int) {
	pr.p.Fprintf(pr.w, "Frame %d: (%3d,%3d,%d,z%.3f) (%3d,%3d) score:%7.4f t:%4.2fs ETA:%s (excluded %2d%% tiles)\n",
		frame, r.Tile.X, r.Tile.Y, r.Tile.Z, r.Zoom, r.X, r.Y, r.Score,
		took.Seconds(), clock(pr.eta(remaining)), excludedPct)
}

// resumed prints the frame ranges a run skips.
func (pr *progress) resumed(recs []resultlog.Record) {
	if len(recs) == 0 {
		return
	}
	frames := make([]uint32, len(recs))
	for i, r := range recs {
		frames[i] = r.Frame
	}
	pr.p.Fprintf(pr.w, "%d frames were already calculated and will be skipped:\n", len(frames))
	for _, rg := range resultlog.Ranges(frames) {
		fmt.Fprintf(pr.w, "  %s\n", rg)
	}
}

// summary prints the totals of a run.
func (pr *progress) summary(st Stats) {
	pr.p.Fprintf(pr.w, "Done: %d frames searched, %d resumed, %d dispatches, %d tiles excluded\n",
		st.Frames, st.Resumed, st.Dispatches, st.Excluded)
}
