// Package scheduler runs the automatic control loop. Every tick it updates
// the pumps, reads the smoothed power budget and either sheds one pump on a
// deficit or greedily starts the pumps that want to run and fit in the
// surplus, in priority order.
package scheduler
