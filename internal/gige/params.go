package gige

// GenICam feature names the acquisition core touches. Kept in one place
// so the simulator and the real transport agree on spelling.
const (
	// Transport layer control, per stream channel.
	ParamChannelSelector = "GevStreamChannelSelector"
	ParamHostPort        = "GevSCPHostPort"
	ParamDestAddress     = "GevSCDA"

	// Device-level acquisition features.
	ParamPayloadSize      = "PayloadSize"
	ParamAcquisitionStart = "AcquisitionStart"
	ParamAcquisitionStop  = "AcquisitionStop"

	// Image geometry and format.
	ParamWidth       = "Width"
	ParamHeight      = "Height"
	ParamPixelFormat = "PixelFormat"

	// Exposure and gain. GainRaw is the integer fallback older firmware
	// exposes instead of the float Gain feature.
	ParamExposureTime = "ExposureTime"
	ParamGain         = "Gain"
	ParamGainRaw      = "GainRaw"

	// Stream (not device) counters read by the statistics aggregator.
	ParamAcquisitionRate = "AcquisitionRate" // frames per second
	ParamBandwidth       = "Bandwidth"       // bytes per second
)
