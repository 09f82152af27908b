// Package sim drives a whole cluster in lock-step rounds over an
// in-process lossy network. Each round it starts nodes whose join time has
// come, injects scheduled crashes and client operations, lets every node
// receive and then lets every node tick before advancing the clock.
package sim
