// Package audio converts call audio between the carrier's telephone encoding
// and the encoding the speech provider is configured to use.
package audio

import (
	"encoding/base64"
	"fmt"

	"github.com/zaf/g711"
)

type Format string

const (
	// FormatG711Ulaw is 8 kHz mono mu-law, what the carrier streams.
	FormatG711Ulaw Format = "g711_ulaw"
	// FormatPCM16 is 24 kHz mono signed 16-bit little-endian PCM.
	FormatPCM16 Format = "pcm16"
)

const (
	CarrierSampleRate = 8000
	PCM16SampleRate   = 24000

	rateRatio = PCM16SampleRate / CarrierSampleRate
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatG711Ulaw, FormatPCM16:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported audio format %q", s)
	}
}

// Adapter translates base64 audio payloads for one call.
// It is stateful so resampling stays continuous across frames:
// ToProvider must only be called from one goroutine, and ToCarrier from one (possibly different) goroutine.
type Adapter struct {
	provider Format

	// inbound (carrier -> provider) upsampler state
	prevIn   int16
	primedIn bool

	// outbound (provider -> carrier) downsampler state
	pendingBytes   []byte
	pendingSamples []int16
}

func NewAdapter(provider Format) (*Adapter, error) {
	if _, err := ParseFormat(string(provider)); err != nil {
		return nil, err
	}
	return &Adapter{provider: provider}, nil
}

// ProviderFormat is the format to advertise in the provider session configuration.
func (a *Adapter) ProviderFormat() Format { return a.provider }

// Passthrough reports whether payloads are forwarded verbatim.
func (a *Adapter) Passthrough() bool { return a.provider == FormatG711Ulaw }

// ToProvider converts a carrier media payload into a provider input payload.
func (a *Adapter) ToProvider(payload string) (string, error) {
	if a.Passthrough() {
		return payload, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode carrier payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(a.upsample(raw)), nil
}

// ToCarrier converts a provider audio delta into a carrier media payload.
// It may return an empty payload when the delta is shorter than one output sample.
func (a *Adapter) ToCarrier(payload string) (string, error) {
	if a.Passthrough() {
		return payload, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode provider payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(a.downsample(raw)), nil
}

// upsample decodes mu-law and interpolates linearly to three times the rate.
func (a *Adapter) upsample(ulaw []byte) []byte {
	out := make([]byte, 0, len(ulaw)*rateRatio*2)
	for _, b := range ulaw {
		s := g711.DecodeUlawFrame(b)
		if !a.primedIn {
			a.prevIn = s
			a.primedIn = true
		}
		p := int32(a.prevIn)
		d := int32(s) - p
		for k := 1; k <= rateRatio; k++ {
			v := int16(p + d*int32(k)/rateRatio)
			out = append(out, byte(v), byte(uint16(v)>>8))
		}
		a.prevIn = s
	}
	return out
}

// downsample averages each group of three PCM16 samples and encodes it as mu-law.
// Partial samples and groups are carried to the next call.
func (a *Adapter) downsample(pcm []byte) []byte {
	if len(a.pendingBytes) > 0 {
		pcm = append(a.pendingBytes, pcm...)
		a.pendingBytes = nil
	}
	if len(pcm)%2 == 1 {
		a.pendingBytes = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}

	samples := a.pendingSamples
	a.pendingSamples = nil
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int16(uint16(pcm[i])|uint16(pcm[i+1])<<8))
	}

	out := make([]byte, 0, len(samples)/rateRatio)
	i := 0
	for ; i+rateRatio <= len(samples); i += rateRatio {
		var sum int32
		for _, s := range samples[i : i+rateRatio] {
			sum += int32(s)
		}
		out = append(out, g711.EncodeUlawFrame(int16(sum/rateRatio)))
	}
	if i < len(samples) {
		a.pendingSamples = append([]int16(nil), samples[i:]...)
	}
	return out
}
