// Package clock provides the process-wide simulation clock. Time is a
// monotonic integer tick advanced once per round by the driver; every
// timestamp in membership entries, stored values and transactions is
// expressed in these ticks.
package clock
