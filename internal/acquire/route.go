package acquire

import (
	"fmt"
	"log/slog"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
)

// routeSecondChannel points the camera's second stream channel at the
// given local endpoint, writing through the device's transport-layer
// registers: select channel 1, write the destination port, write the
// destination address, restore channel 0.
//
// The selector is restored on success and on failure; later
// configuration assumes channel 0 is selected. Any write failure aborts
// session startup: a half-configured route loses the near-infrared
// stream silently, which is worse than not starting.
func routeSecondChannel(dev gige.Device, ip string, port int) (err error) {
	encoded, err := gige.EncodeIPv4(ip)
	if err != nil {
		return fmt.Errorf("acquire: route channel 1: %w", err)
	}

	params := dev.Params()

	if err := selectChannel(params, 1); err != nil {
		return fmt.Errorf("acquire: select channel 1: %w", err)
	}
	defer func() {
		if rerr := selectChannel(params, 0); rerr != nil {
			slog.Error("acquire: channel selector restore failed", "error", rerr)
			if err == nil {
				err = fmt.Errorf("acquire: restore channel selector: %w", rerr)
			}
		}
	}()

	if err := params.SetInteger(gige.ParamHostPort, int64(port)); err != nil {
		return fmt.Errorf("acquire: write %s: %w", gige.ParamHostPort, err)
	}
	if err := params.SetInteger(gige.ParamDestAddress, int64(encoded)); err != nil {
		return fmt.Errorf("acquire: write %s: %w", gige.ParamDestAddress, err)
	}

	slog.Info("acquire: channel 1 routed", "ip", ip, "port", port)
	return nil
}

// selectChannel positions the stream channel selector, preferring the
// enumerated feature and falling back to a raw integer write on
// firmware that exposes the register without the enum.
func selectChannel(params gige.Params, index int64) error {
	if e, err := params.Enum(gige.ParamChannelSelector); err == nil {
		return e.SetValue(index)
	}
	return params.SetInteger(gige.ParamChannelSelector, index)
}
