package ehf

// MinDuration is the minimum number of consecutive positive-EHF days that
// make a heatwave.
const MinDuration = 3

// Events is the per-day heatwave encoding of a time x cell window, stored
// row-major like Field.
type Events struct {
	NTime  int
	NCells int
	// Event is set on every day that belongs to a heatwave.
	Event []bool
	// Duration holds the length of a heatwave on its first day and 0
	// elsewhere.
	Duration []int
}

// At returns the encoding for day t at cell g.
func (e *Events) At(t, g int) (event bool, duration int) {
	i := t*e.NCells + g
	return e.Event[i], e.Duration[i]
}

// runLengths counts, for every positive day, the days remaining in its run
// including itself. The first day of a run therefore holds the run length.
func runLengths(ehf []float64) []int {
	run := make([]int, len(ehf))
	next := 0
	for t := len(ehf) - 1; t >= 0; t-- {
		if ehf[t] > 0 {
			next++
		} else {
			next = 0
		}
		run[t] = next
	}
	return run
}

// Identify segments a single EHF series into heatwaves. Runs shorter than
// MinDuration are dropped from both outputs. NaN counts as not positive.
func Identify(ehf []float64) (event []bool, duration []int) {
	run := runLengths(ehf)
	event = make([]bool, len(ehf))
	duration = make([]int, len(ehf))
	prev := 0
	for t, n := range run {
		start := prev == 0 && n > 0
		prev = n
		if !start || n < MinDuration {
			continue
		}
		duration[t] = n
		for k := t; k < t+n; k++ {
			event[k] = true
		}
	}
	return event, duration
}

// IdentifyField applies Identify to every cell of ehf.
func IdentifyField(ehf *Field, workers int) *Events {
	ev := &Events{
		NTime:    ehf.NTime,
		NCells:   ehf.NCells,
		Event:    make([]bool, len(ehf.Data)),
		Duration: make([]int, len(ehf.Data)),
	}
	forEachCell(ehf.NCells, workers, func(g int) {
		event, duration := Identify(ehf.Column(g, 0, ehf.NTime))
		for t := range event {
			i := t*ehf.NCells + g
			ev.Event[i] = event[t]
			ev.Duration[i] = duration[t]
		}
	})
	return ev
}
