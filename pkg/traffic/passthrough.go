package traffic

import (
	"encoding/json"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/message"
	"github.com/daviddao/gridlock/pkg/runtime"
)

// passthroughProtocol serves roads and zones: admission is always
// granted, leaving needs no bookkeeping.
type passthroughProtocol struct{}

func (passthroughProtocol) handleCommand(ctx *runtime.Context, imm *Immovable, from ident.ID, cmd message.Command) (bool, error) {
	switch c := cmd.(type) {
	case message.AdmissionRequest:
		return true, ctx.Send(c.MobileID, message.AdmissionGranted{ByID: imm.id})
	case message.LeaveNotice:
		return true, nil
	}
	return false, nil
}

func (passthroughProtocol) applyEvent(event.Event) bool { return false }

func (passthroughProtocol) onTick(*runtime.Context, *Immovable, event.TimeValue) error { return nil }

func (passthroughProtocol) snapshot() (json.RawMessage, error) { return json.Marshal(struct{}{}) }

func (passthroughProtocol) restore(json.RawMessage) error { return nil }
