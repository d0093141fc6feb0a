package decode

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/vidrx/vidrx/internal/pipeline"
	"github.com/vidrx/vidrx/internal/util"
)

// H264Decoder decodes reassembled frames as H.264 Annex-B bitstreams: it
// splits NAL units, tracks parameter sets and keyframes, and renders by
// publishing the bitstream to the frame broadcaster (the live view acts as
// the display surface).
type H264Decoder struct {
	broadcaster *pipeline.Broadcaster
	sps         []byte
	pps         []byte
}

// NewH264Decoder creates a decoder publishing rendered frames to the given
// broadcaster. A nil broadcaster disables rendering output; decoded frames
// are then discarded after validation.
func NewH264Decoder(broadcaster *pipeline.Broadcaster) *H264Decoder {
	return &H264Decoder{broadcaster: broadcaster}
}

// DecodeAndRender decodes the frame and publishes it for display.
func (d *H264Decoder) DecodeAndRender(data []byte) error {
	if err := d.decode(data); err != nil {
		return err
	}
	if d.broadcaster != nil {
		d.broadcaster.Publish(data)
	}
	return nil
}

// DecodeOnly decodes the frame without rendering it.
func (d *H264Decoder) DecodeOnly(data []byte) error {
	return d.decode(data)
}

// SPS returns the most recent sequence parameter set, or nil.
func (d *H264Decoder) SPS() []byte {
	return d.sps
}

// PPS returns the most recent picture parameter set, or nil.
func (d *H264Decoder) PPS() []byte {
	return d.pps
}

func (d *H264Decoder) decode(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty frame bitstream")
	}

	var annexB h264.AnnexB
	if err := annexB.Unmarshal(data); err != nil {
		return fmt.Errorf("invalid H.264 bitstream: %w", err)
	}

	for _, nalu := range annexB {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			d.sps = nalu
			d.cacheParameterSets()
		case h264.NALUTypePPS:
			d.pps = nalu
			d.cacheParameterSets()
		case h264.NALUTypeIDR:
			util.GetLogger().Debug("IDR slice decoded", "size", len(nalu))
		}
	}

	return nil
}

// cacheParameterSets hands the current SPS/PPS pair to the broadcaster so
// late subscribers can initialize their decoder.
func (d *H264Decoder) cacheParameterSets() {
	if d.broadcaster == nil || d.sps == nil || d.pps == nil {
		return
	}

	ps := make([]byte, 0, len(d.sps)+len(d.pps)+8)
	ps = append(ps, 0x00, 0x00, 0x00, 0x01)
	ps = append(ps, d.sps...)
	ps = append(ps, 0x00, 0x00, 0x00, 0x01)
	ps = append(ps, d.pps...)
	d.broadcaster.CacheParameterSets(ps)
}
