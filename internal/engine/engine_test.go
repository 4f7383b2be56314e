package engine

import (
	"testing"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/negotiation"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func TestDescriptionKindMapping(t *testing.T) {
	for _, kind := range []negotiation.DescriptionKind{negotiation.KindOffer, negotiation.KindAnswer} {
		in := negotiation.SessionDescription{Kind: kind, SDP: "v=0"}
		p, err := toPion(in)
		if err != nil {
			t.Fatalf("toPion(%s): %v", kind, err)
		}
		out, err := fromPion(p)
		if err != nil {
			t.Fatalf("fromPion(%s): %v", p.Type, err)
		}
		if out != in {
			t.Fatalf("round trip = %+v, want %+v", out, in)
		}
	}

	if _, err := fromPion(pion.SessionDescription{Type: pion.SDPTypePranswer, SDP: "v=0"}); err == nil {
		t.Fatal("pranswer accepted")
	}
	if _, err := toPion(negotiation.SessionDescription{SDP: "v=0"}); err == nil {
		t.Fatal("description without kind accepted")
	}
	if p, _ := toPion(negotiation.SessionDescription{Kind: negotiation.KindAnswer}); p.Type != pion.SDPTypeAnswer {
		t.Fatalf("answer mapped to %s", p.Type)
	}
}

func TestCandidateConversion(t *testing.T) {
	c := negotiation.Candidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", SDPMid: "0", SDPMLineIndex: 1}
	ci := candidateToPion(c)
	if ci.SDPMid == nil || *ci.SDPMid != "0" || ci.SDPMLineIndex == nil || *ci.SDPMLineIndex != 1 {
		t.Fatalf("init = %+v", ci)
	}
	if got := candidateFromPion(ci); got != c {
		t.Fatalf("candidateFromPion = %+v, want %+v", got, c)
	}
	if got := candidateFromPion(pion.ICECandidateInit{Candidate: "x"}); got.SDPMid != "" || got.SDPMLineIndex != 0 {
		t.Fatalf("nil pointers gave %+v", got)
	}
}

func TestHelloMessage(t *testing.T) {
	hello := HelloPayload{DeviceName: "laptop", DeviceVersion: "v1.2.3", Audio: true}
	msg, err := NewMessage(MessageTypeHello, hello)
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != MessageTypeHello {
		t.Fatalf("type = %q", got.Type)
	}
	var decoded HelloPayload
	if err := got.DecodePayload(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != hello {
		t.Fatalf("payload = %+v, want %+v", decoded, hello)
	}

	if _, err := DecodeMessage([]byte{0xc1}); err == nil {
		t.Fatal("garbage decoded")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		STUNServer: "stun:stun.example.com:3478",
		TURNServer: "turn.example.com",
		TURNUser:   "u",
		TURNPass:   "p",
		ForceRelay: true,
		Audio:      true,
	}
	opts := OptionsFromConfig(cfg)
	if !opts.Relay || !opts.Audio || opts.Video {
		t.Fatalf("opts = %+v", opts)
	}
	servers := opts.iceServers()
	if len(servers) != 2 {
		t.Fatalf("ice servers = %+v", servers)
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Fatalf("turn credentials = %+v", servers[1])
	}

	if got := (Options{}).iceServers(); len(got) != 0 {
		t.Fatalf("empty options gave %+v", got)
	}
}

func TestNewPeerConnection(t *testing.T) {
	p, err := New(Options{Audio: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	offer, err := p.CreateOffer(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if offer.Kind != negotiation.KindOffer || offer.SDP == "" {
		t.Fatalf("offer = %+v", offer)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
