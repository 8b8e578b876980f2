// Package framebus fans readback frames out to host-side observers (frame
// savers, previews, telemetry) without ever blocking the publisher.
//
// # Core Philosophy
//
// "Drop frames, never queue." The filter publishes from its render tick; a
// slow observer loses frames, the render tick never waits.
//
// Two subscription policies:
//
//	// DropNew: frames are sent on the caller's channel; a full channel drops
//	// the new frame.
//	ch := make(chan framebus.Frame, 4)
//	bus.Subscribe("saver", ch)
//
//	// DropOld: the receiver always holds only the latest frame.
//	rx, _ := bus.SubscribeLatest("preview")
//	frame, ok := rx.TryReceive()
//
// Published frames are shared between subscribers: treat Data as read-only.
package framebus
