package audio

import (
	"encoding/base64"
	"testing"

	"github.com/zaf/g711"
)

func TestPassthroughForwardsVerbatim(t *testing.T) {
	a, err := NewAdapter(FormatG711Ulaw)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	in := base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f, 0x00})
	out, err := a.ToProvider(in)
	if err != nil || out != in {
		t.Fatalf("expected verbatim payload, got %q %v", out, err)
	}
	back, err := a.ToCarrier("not even base64")
	if err != nil || back != "not even base64" {
		t.Fatalf("pass-through must not decode, got %q %v", back, err)
	}
}

func TestNewAdapterRejectsUnknownFormat(t *testing.T) {
	if _, err := NewAdapter("opus"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTranscodeUpsamplesThreeTimes(t *testing.T) {
	a, _ := NewAdapter(FormatPCM16)
	ulaw := make([]byte, 160) // 20ms at 8kHz
	for i := range ulaw {
		ulaw[i] = 0xff // mu-law silence
	}
	out, err := a.ToProvider(base64.StdEncoding.EncodeToString(ulaw))
	if err != nil {
		t.Fatalf("to provider: %v", err)
	}
	pcm, _ := base64.StdEncoding.DecodeString(out)
	if len(pcm) != 160*3*2 {
		t.Fatalf("expected %d bytes, got %d", 160*3*2, len(pcm))
	}
}

func TestTranscodeDownsampleCarriesPartialGroups(t *testing.T) {
	a, _ := NewAdapter(FormatPCM16)

	// 4 samples = one full group plus one carried sample.
	first := make([]byte, 8)
	out, err := a.ToCarrier(base64.StdEncoding.EncodeToString(first))
	if err != nil {
		t.Fatalf("to carrier: %v", err)
	}
	ulaw, _ := base64.StdEncoding.DecodeString(out)
	if len(ulaw) != 1 {
		t.Fatalf("expected one output sample, got %d", len(ulaw))
	}

	// 5 more bytes: two samples complete the carried group, one odd byte is held.
	second := make([]byte, 5)
	out, _ = a.ToCarrier(base64.StdEncoding.EncodeToString(second))
	ulaw, _ = base64.StdEncoding.DecodeString(out)
	if len(ulaw) != 1 {
		t.Fatalf("expected carried group to complete, got %d samples", len(ulaw))
	}
	if len(a.pendingBytes) != 1 || len(a.pendingSamples) != 0 {
		t.Fatalf("unexpected carry state: bytes=%d samples=%d", len(a.pendingBytes), len(a.pendingSamples))
	}
}

func TestTranscodeRoundTripPreservesLevel(t *testing.T) {
	a, _ := NewAdapter(FormatPCM16)

	// A constant tone level survives decode, upsample, downsample and encode.
	src := g711.EncodeUlaw([]byte{0x00, 0x10, 0x00, 0x10, 0x00, 0x10, 0x00, 0x10})
	up, _ := a.ToProvider(base64.StdEncoding.EncodeToString(src))
	down, _ := a.ToCarrier(up)
	got, _ := base64.StdEncoding.DecodeString(down)
	if len(got) != len(src) {
		t.Fatalf("expected %d samples, got %d", len(src), len(got))
	}
	for i := range got {
		if got[i] != src[i] {
			t.Fatalf("sample %d changed: %x -> %x", i, src[i], got[i])
		}
	}
}

func TestTranscodeRejectsBadBase64(t *testing.T) {
	a, _ := NewAdapter(FormatPCM16)
	if _, err := a.ToProvider("%%%"); err == nil {
		t.Fatalf("expected decode error")
	}
}
