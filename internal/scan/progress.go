package scan

import "time"

// reportProgress emits ScanProgress on every tick until stop is closed.
func (r *run) reportProgress(stop <-chan struct{}) {
	ticker := r.clock.NewTicker(r.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C():
			r.emit(r.progress())
		}
	}
}

// progress reports completed/discovered directories. The ETA extrapolates the elapsed time
// over the remaining fraction and is 0 while nothing has completed.
func (r *run) progress() ScanProgress {
	fraction := r.fraction()
	elapsed := r.clock.Now().Sub(r.start)

	var eta time.Duration
	if fraction > 0 && fraction < 1 {
		eta = time.Duration(float64(elapsed) * (1 - fraction) / fraction)
	}

	current, _ := r.current.Load().(string)

	return ScanProgress{
		Percentage:  fraction * 100, //nolint:mnd // percentage scale
		CurrentPath: current,
		ItemsFound:  r.itemsFound.Load(),
		EtaMs:       eta.Milliseconds(),
	}
}
