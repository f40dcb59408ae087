package message

import (
	"encoding/json"
	"testing"
)

func TestEnvelope_RequestRoundTrip(t *testing.T) {
	in := Envelope{
		To:   "L-7",
		From: "M-3",
		Request: &Request{
			DeliveryID: 42,
			Command:    AdmissionRequest{MobileID: "M-3"},
		},
	}
	payload, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.To != "L-7" || out.From != "M-3" {
		t.Fatalf("addressing lost: to=%s from=%s", out.To, out.From)
	}
	if out.Request == nil || out.Request.DeliveryID != 42 {
		t.Fatal("request delivery ID lost")
	}
	cmd, ok := out.Request.Command.(AdmissionRequest)
	if !ok {
		t.Fatalf("command type = %T, want AdmissionRequest", out.Request.Command)
	}
	if cmd.MobileID != "M-3" {
		t.Fatalf("command payload lost: %+v", cmd)
	}
}

func TestEnvelope_AckRoundTrip(t *testing.T) {
	payload, err := Encode(Envelope{To: "M-3", From: "L-7", Ack: &Ack{DeliveryID: 42}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if out.Ack == nil || out.Ack.DeliveryID != 42 {
		t.Fatal("ack lost")
	}
}

func TestEnvelope_ExactlyOneHalf(t *testing.T) {
	payload, _ := json.Marshal(Envelope{To: "L-7"})
	if _, err := Decode(payload); err == nil {
		t.Fatal("envelope with neither request nor ack should fail")
	}
}

func TestToKind_Nested(t *testing.T) {
	in := Envelope{
		To:   "C-1",
		From: "M-9",
		Request: &Request{
			DeliveryID: 7,
			Command:    ToKind{Kind: "Crossroad", Command: AdmissionRequest{MobileID: "M-9"}},
		},
	}
	payload, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	tk, ok := out.Request.Command.(ToKind)
	if !ok {
		t.Fatalf("command type = %T, want ToKind", out.Request.Command)
	}
	if tk.Kind != "Crossroad" {
		t.Fatalf("kind = %q, want Crossroad", tk.Kind)
	}
	if inner, ok := tk.Command.(AdmissionRequest); !ok || inner.MobileID != "M-9" {
		t.Fatalf("inner command lost: %#v", tk.Command)
	}
}

func TestDecode_UnknownCommand(t *testing.T) {
	payload := []byte(`{"to":"L-7","from":"M-1","request":{"delivery_id":1,"command":{"type":"bogus","data":{}}}}`)
	if _, err := Decode(payload); err == nil {
		t.Fatal("expected error for unknown command type")
	}
}
