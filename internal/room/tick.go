package room

import "time"

// runTickLoop drives the fixed-tick simulation (spec.md §4.5): advance
// every component, flush dirty state to clients, repeat until stop is
// closed by Destroy or a drained end-game intent ends the game.
func (r *Room) runTickLoop(stop <-chan struct{}) {
	defer r.tickWG.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	dt := r.tickInterval.Seconds()
	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt = now.Sub(last).Seconds()
			last = now
			r.checkStartReady()
			if r.drainEndGameIntents() {
				return
			}
			r.graph.FixedUpdate(dt)
			r.BroadcastDirty()
		}
	}
}
