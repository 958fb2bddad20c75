package relay

import "fmt"

// DerivedName is the relay name of the downscaled copy of name.
func DerivedName(name string, height int) string {
	return fmt.Sprintf("%s_%dp", name, height)
}

// DerivedSource is the transcode descriptor producing a baseline-friendly
// H264 copy of the relay stream name at width x height.
func DerivedSource(name string, width, height int) string {
	return fmt.Sprintf("ffmpeg:%s#video=h264#width=%d#height=%d", name, width, height)
}
