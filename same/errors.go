package same

import "errors"

// Error kinds surfaced by the SAME codec and decoders. Callers are expected
// to test with errors.Is; everything else wraps one of these.
var (
	// ErrInputMissing indicates the requested audio file does not exist.
	ErrInputMissing = errors.New("input file missing")

	// ErrAudioUnavailable indicates no usable audio path: the external
	// resampler (ffmpeg) is missing and the input cannot be read natively.
	ErrAudioUnavailable = errors.New("audio unavailable")

	// ErrNoSignal indicates no SAME bursts were detected in the audio.
	ErrNoSignal = errors.New("no SAME signal detected")

	// ErrBadFraming indicates the bit framing was consistently invalid.
	ErrBadFraming = errors.New("bad bit framing")

	// ErrConfig indicates an invalid station identity, FIPS code or event
	// code supplied by the operator.
	ErrConfig = errors.New("invalid configuration")

	// ErrStorage indicates an archive or snapshot could not be written.
	ErrStorage = errors.New("storage failure")

	// ErrHardware indicates a GPIO backend fault.
	ErrHardware = errors.New("hardware failure")

	// ErrWatchdogTimeout indicates a pin or monitor exceeded its allowed
	// activation time or heartbeat window.
	ErrWatchdogTimeout = errors.New("watchdog timeout")
)
