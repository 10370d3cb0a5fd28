//go:build !linux

package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// newMediaEngine registers the default codecs. There is no capture driver
// outside Linux, so every call attempt fails with ErrMediaUnsupported.
func newMediaEngine(_ EngineConfig) (*webrtc.MediaEngine, captureFunc, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	capture := func(context.Context, CallType) ([]LocalTrack, error) {
		return nil, ErrMediaUnsupported
	}
	return mediaEngine, capture, nil
}
