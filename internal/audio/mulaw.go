package audio

import "fmt"

// PCMToMulaw converts 16-bit little-endian linear PCM to G.711 mu-law,
// resampling to the target rate first when the rates differ. This is the
// fallback path for synthesis providers that cannot emit mu-law directly.
func PCMToMulaw(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	if inputRate != outputRate {
		samples = Resample(samples, inputRate, outputRate)
	}

	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToMulaw(s)
	}
	return out, nil
}

// MulawToPCM converts G.711 mu-law to 16-bit little-endian linear PCM.
func MulawToPCM(mulaw []byte) ([]byte, error) {
	if len(mulaw) == 0 {
		return nil, fmt.Errorf("empty mu-law data")
	}
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := MulawToLinear(b)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm, nil
}

// Resample performs linear-interpolation resampling. Good enough for
// narrow-band telephone audio; anything fancier belongs in the external
// transcoder.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	out := make([]int16, int(float64(len(samples))*ratio))

	for i := range out {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		frac := srcPos - float64(idx0)
		out[i] = int16(float64(samples[idx0])*(1.0-frac) + float64(samples[idx1])*frac)
	}
	return out
}

// LinearToMulaw encodes a 16-bit linear PCM sample as 8-bit mu-law
// (ITU-T G.711).
func LinearToMulaw(sample int16) byte {
	const (
		clip = 8159 // 14-bit magnitude ceiling
		bias = 0x21
	)

	var sign byte
	magnitude := int32(sample)
	if sample < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	var segment byte
	switch {
	case magnitude >= 0x1000:
		segment = 7
	case magnitude >= 0x800:
		segment = 6
	case magnitude >= 0x400:
		segment = 5
	case magnitude >= 0x200:
		segment = 4
	case magnitude >= 0x100:
		segment = 3
	case magnitude >= 0x80:
		segment = 2
	case magnitude >= 0x40:
		segment = 1
	default:
		segment = 0
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)
	return ^(sign | segment<<4 | mantissa)
}

// MulawToLinear decodes an 8-bit mu-law sample to 16-bit linear PCM.
func MulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	segment := int32((b >> 4) & 0x07)
	mantissa := int32(b & 0x0F)

	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
