package apdu

import (
	"github.com/sirupsen/logrus"

	"github.com/shigmas/bacnet-router/pkg/npdu"
)

// LoggingHandler is a router.APDUHandler that logs every locally
// delivered APDU's peeked header and otherwise does nothing with it.
// It stands in for the object-database/service-handler collaborator the
// router spec treats as out of scope, giving the delivery path something
// concrete to call without implementing any BACnet service.
type LoggingHandler struct {
	log *logrus.Logger
}

// NewLoggingHandler returns a LoggingHandler. A nil logger falls back to
// logrus.StandardLogger().
func NewLoggingHandler(log *logrus.Logger) *LoggingHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LoggingHandler{log: log}
}

// HandleAPDU implements router.APDUHandler.
func (h *LoggingHandler) HandleAPDU(src npdu.Address, apduBytes []byte) {
	entry := h.log.WithFields(logrus.Fields{
		"src_net": src.Net,
		"src_mac": src.Mac,
	})
	header, err := PeekHeader(apduBytes)
	if err != nil {
		entry.WithError(err).Debug("received unparseable apdu")
		return
	}
	entry = entry.WithField("pdu_type", header.PDUType.String())
	if header.HasService {
		entry = entry.WithField("service", header.Service)
	}
	entry.Debug("apdu delivered to local application layer")
}
