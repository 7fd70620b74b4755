package camera

import (
	"log/slog"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// Discover inspects a connected device and reports its stream channel
// layout. Dual-channel prism cameras expose a second stream channel for
// the near-infrared tap; everything else is single-channel visible.
//
// The ladder, most reliable first:
//
//  1. GevStreamChannelSelector is an enumeration with more than one
//     entry: dual-channel.
//  2. The enumeration exists with one entry: single-channel.
//  3. No enumeration, but a raw integer write of index 1 to the same
//     feature name is accepted: dual-channel. Some firmware exposes the
//     register without the enum; this is a vendor heuristic, not GigE
//     Vision contract. The selector is restored to 0 before returning
//     so later configuration starts from a known channel.
//
// Discovery never fails: anything unsupported or unresponsive degrades
// to the single-channel answer.
func Discover(dev gige.Device) []types.ChannelDescriptor {
	single := []types.ChannelDescriptor{{Index: 0, Role: types.RoleVisible}}
	dual := []types.ChannelDescriptor{
		{Index: 0, Role: types.RoleVisible},
		{Index: 1, Role: types.RoleNearInfrared},
	}

	params := dev.Params()

	if sel, err := params.Enum(gige.ParamChannelSelector); err == nil {
		n, err := sel.EntryCount()
		if err != nil {
			slog.Warn("camera: channel selector entry count failed, assuming single channel", "error", err)
			return single
		}
		slog.Debug("camera: channel selector present", "entries", n)
		if n > 1 {
			return dual
		}
		return single
	}

	// No enumeration. Probe with a raw integer write.
	if err := params.SetInteger(gige.ParamChannelSelector, 1); err != nil {
		slog.Debug("camera: no channel selector, single channel", "probe_error", err)
		return single
	}
	if err := params.SetInteger(gige.ParamChannelSelector, 0); err != nil {
		slog.Warn("camera: channel selector restore failed", "error", err)
	}
	slog.Info("camera: channel selector accepted integer probe, dual channel")
	return dual
}
