package media

// Event topics published by the media module.
const (
	TopicStreamStarted = "media.stream.started"
	TopicStreamStopped = "media.stream.stopped"
	TopicPTZFailed     = "media.ptz.failed"
)

// StreamEvent is the payload for the stream topics. The source URI is
// always redacted.
type StreamEvent struct {
	StreamID      string `json:"stream_id"`
	DeviceAddress string `json:"device_address"`
	Source        string `json:"source,omitempty"`
	Resolver      string `json:"resolver,omitempty"`
}

// PTZEvent is the payload for TopicPTZFailed.
type PTZEvent struct {
	DeviceAddress string `json:"device_address"`
	ProfileToken  string `json:"profile_token"`
	Direction     string `json:"direction"`
	Error         string `json:"error"`
}
