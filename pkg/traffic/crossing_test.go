package traffic

import (
	"testing"
	"time"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/message"
)

func TestCrossing_PhaseFlipWhenVehiclesDrain(t *testing.T) {
	imm, h := newBoundImmovable(t, "P-1")

	// Vehicles hold a fresh crossing: a vehicle enters immediately.
	sendFrom(h.e, "M-1", 1, message.AdmissionRequest{MobileID: "M-1", Pedestrian: false})
	h.capture.waitCommandTo(t, "M-1", isGranted)

	// A pedestrian arriving during the vehicle phase queues.
	sendFrom(h.e, "M-5", 1, message.AdmissionRequest{MobileID: "M-5", Pedestrian: true})
	time.Sleep(30 * time.Millisecond)
	if cmds := h.capture.commandsTo("M-5"); len(cmds) != 0 {
		t.Fatalf("pedestrian admitted during vehicle phase: %+v", cmds)
	}

	// The last vehicle leaves: phase flips, the pedestrian crosses.
	sendFrom(h.e, "M-1", 2, message.LeaveNotice{MobileID: "M-1", Pedestrian: false})
	h.capture.waitCommandTo(t, "M-5", isGranted)

	flipped := false
	for _, ev := range journaledEvents(t, h.s, "PedestrianCrossingActor-P-1") {
		if f, ok := ev.(event.CrossingPhaseFlipped); ok && !f.VehiclePass {
			flipped = true
		}
	}
	if !flipped {
		t.Fatal("CrossingPhaseFlipped not journaled")
	}

	h.e.Stop()
	p := imm.protocol.(*crossingProtocol)
	if p.VehiclePass {
		t.Fatal("crossing should be in the pedestrian phase")
	}
	if len(p.PedestrianRequests) != 0 {
		t.Fatalf("pedestrian queue not drained: %v", p.PedestrianRequests)
	}
	if p.NumCrossing != 1 {
		t.Fatalf("NumCrossing = %d, want 1 (the crossing pedestrian)", p.NumCrossing)
	}
}

func TestCrossing_NoFlipWhileCrossing(t *testing.T) {
	_, h := newBoundImmovable(t, "P-1")

	sendFrom(h.e, "M-1", 1, message.AdmissionRequest{MobileID: "M-1", Pedestrian: false})
	h.capture.waitCommandTo(t, "M-1", isGranted)
	sendFrom(h.e, "M-2", 1, message.AdmissionRequest{MobileID: "M-2", Pedestrian: false})
	h.capture.waitCommandTo(t, "M-2", isGranted)

	sendFrom(h.e, "M-5", 1, message.AdmissionRequest{MobileID: "M-5", Pedestrian: true})

	// One of two vehicles leaves; the other is still crossing, so the
	// pedestrian keeps waiting.
	sendFrom(h.e, "M-1", 2, message.LeaveNotice{MobileID: "M-1", Pedestrian: false})
	time.Sleep(50 * time.Millisecond)
	if cmds := h.capture.commandsTo("M-5"); len(cmds) != 0 {
		t.Fatalf("pedestrian admitted while a vehicle still crossing: %+v", cmds)
	}

	sendFrom(h.e, "M-2", 2, message.LeaveNotice{MobileID: "M-2", Pedestrian: false})
	h.capture.waitCommandTo(t, "M-5", isGranted)
}

func TestCrossroad_TokenArbitration(t *testing.T) {
	imm, h := newBoundImmovable(t, "C-1")

	sendFrom(h.e, "M-1", 1, message.AdmissionRequest{MobileID: "M-1"})
	h.capture.waitCommandTo(t, "M-1", isGranted)

	// The token is taken: the second vehicle queues.
	sendFrom(h.e, "M-2", 1, message.AdmissionRequest{MobileID: "M-2"})
	time.Sleep(30 * time.Millisecond)
	if cmds := h.capture.commandsTo("M-2"); len(cmds) != 0 {
		t.Fatalf("M-2 granted while M-1 holds the token: %+v", cmds)
	}

	// Release hands the token to the head of the queue.
	sendFrom(h.e, "M-1", 2, message.LeaveNotice{MobileID: "M-1"})
	h.capture.waitCommandTo(t, "M-2", isGranted)

	h.e.Stop()
	p := imm.protocol.(*crossroadProtocol)
	if p.TokenHolder != "M-2" {
		t.Fatalf("TokenHolder = %s, want M-2", p.TokenHolder)
	}
	if len(p.Queue) != 0 {
		t.Fatalf("queue not drained: %v", p.Queue)
	}
}

func TestStop_DwellUntilDeparture(t *testing.T) {
	imm, h := newBoundImmovable(t, "B-1")

	// Advance the stop's clock, then let a bus arrive: it dwells.
	inject(h.e, message.TimeTick{Value: 100})
	sendFrom(h.e, "M-3", 1, message.AdmissionRequest{MobileID: "M-3"})
	time.Sleep(50 * time.Millisecond)
	if cmds := h.capture.commandsTo("M-3"); len(cmds) != 0 {
		t.Fatalf("bus released before departure time: %+v", cmds)
	}

	// Dwell is 30 in the test map: tick 129 is too early, 130 releases.
	inject(h.e, message.TimeTick{Value: 129})
	time.Sleep(30 * time.Millisecond)
	if cmds := h.capture.commandsTo("M-3"); len(cmds) != 0 {
		t.Fatalf("bus released one tick early: %+v", cmds)
	}
	inject(h.e, message.TimeTick{Value: 130})
	h.capture.waitCommandTo(t, "M-3", isGranted)

	h.e.Stop()
	p := imm.protocol.(*stopProtocol)
	if len(p.Dwelling) != 0 {
		t.Fatalf("dwell table not cleared: %v", p.Dwelling)
	}
}
