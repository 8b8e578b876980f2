package pipeline

import (
	"fmt"
	"strings"
)

const (
	// InputName is the name of the synthetic input stage.
	InputName = "appsrc"

	// OutputName is the application sink the user description may end in to
	// send processed frames back to the filter.
	OutputName = "filterout"
)

// Geometry is a frame size in pixels.
type Geometry struct {
	Width  uint32
	Height uint32
}

// String formats the geometry as WxH.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// Rate is a rational frame rate.
type Rate struct {
	Num uint32
	Den uint32
}

// inputStage is a live, push-only source that timestamps on arrival and
// drops the oldest queued buffer when the downstream stalls.
const inputStage = InputName + " name=" + InputName +
	" is-live=true leaky-type=downstream do-timestamp=true format=time"

// Compose builds the full launch description: the synthetic input stage, raw
// BGRA caps for the current geometry and rate, then the user continuation.
//
//	appsrc ... ! video/x-raw,format=BGRA,width=W,height=H,framerate=N/D,interlace-mode=progressive ! <user>
func Compose(user string, geom Geometry, rate Rate) string {
	caps := fmt.Sprintf(
		"video/x-raw,format=BGRA,width=%d,height=%d,framerate=%d/%d,interlace-mode=progressive",
		geom.Width, geom.Height, rate.Num, rate.Den,
	)
	return inputStage + " ! " + caps + " ! " + strings.TrimSpace(user)
}
