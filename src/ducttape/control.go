package ducttape

import "github.com/SeattleMeshnet/meshcore/src/wire"

// handleControl interprets a switch-layer control frame addressed to this
// node under label. Malformed frames, cause-label mismatches, and error
// types this node doesn't act on are logged and discarded; a
// MALFORMED_ADDRESS error reports the path to label as broken.
func (d *Dispatcher) handleControl(label wire.Label, payload []byte) {
	ce, err := wire.ParseControlError(payload)
	if err != nil {
		d.log.Debugln("ducttape: malformed control frame from label", label, ":", err)
		return
	}
	if ce.CauseLabel != label {
		d.log.Infoln("ducttape: control frame cause-label", ce.CauseLabel, "does not match switch header label", label, ", ignoring")
		return
	}
	switch ce.Type {
	case wire.ErrorMalformedAddress:
		d.router.BrokenPath(label)
		d.log.Infoln("ducttape: path to label", label, "reported broken")
	default:
		d.log.Infoln("ducttape: control frame from label", label, "with error type", ce.Type)
	}
}
