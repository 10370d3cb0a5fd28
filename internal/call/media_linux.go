//go:build linux

package call

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// newMediaEngine wires VP8 and Opus encoders from mediadevices into the
// media engine and captures through V4L2 and malgo.
func newMediaEngine(cfg EngineConfig) (*webrtc.MediaEngine, captureFunc, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	if cfg.VideoBitRate > 0 {
		vpxParams.BitRate = cfg.VideoBitRate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	capture := func(_ context.Context, t CallType) ([]LocalTrack, error) {
		return captureTracks(selector, t)
	}
	return mediaEngine, capture, nil
}

func captureTracks(selector *mediadevices.CodecSelector, t CallType) ([]LocalTrack, error) {
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, ErrMediaUnsupported
	}
	for _, d := range devices {
		log.Debugf("CALL: media device kind=%v label=%q", d.Kind, d.Label)
	}

	// A video call degrades to camera only when the microphone cannot be
	// opened. An audio call has nothing to fall back to.
	type attempt struct {
		video, audio bool
		label        string
	}
	attempts := []attempt{{false, true, "audio"}}
	if t == Video {
		attempts = []attempt{{true, true, "video+audio"}, {true, false, "video-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnf("CALL: GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}
		var out []LocalTrack
		for _, track := range stream.GetTracks() {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("CALL: local %s track ended: %v", track.Kind(), err)
				}
			})
			out = append(out, track)
		}
		log.Infof("CALL: local media captured (%s), %d tracks", a.label, len(out))
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrMediaDenied, lastErr)
}
