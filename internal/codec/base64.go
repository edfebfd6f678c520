// Package codec implements LDIF-style base64 folding and the password-hash
// encodings the native and LDIF parsers/printers need (§4.2 of SPEC_FULL.md).
package codec

import (
	"bytes"
	"strings"
)

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const pad64 = '='

// EncodeBase64 renders src as base64, folded LDIF-style: a newline followed
// by a single space is inserted after every 76 output columns.
func EncodeBase64(src []byte) string {
	var buf bytes.Buffer
	col := 0
	i := 0
	for i+2 < len(src) {
		in0, in1, in2 := src[i], src[i+1], src[i+2]
		i += 3

		out0 := in0 >> 2
		out1 := ((in0 & 0x03) << 4) | (in1 >> 4)
		out2 := ((in1 & 0x0f) << 2) | (in2 >> 6)
		out3 := in2 & 0x3f

		if col >= 76 {
			buf.WriteString("\n ")
			col = 0
		}
		col += 4
		buf.WriteByte(base64Alphabet[out0])
		buf.WriteByte(base64Alphabet[out1])
		buf.WriteByte(base64Alphabet[out2])
		buf.WriteByte(base64Alphabet[out3])
	}

	remaining := len(src) - i
	if remaining > 0 {
		var in [3]byte
		copy(in[:], src[i:i+remaining])

		out0 := in[0] >> 2
		out1 := ((in[0] & 0x03) << 4) | (in[1] >> 4)
		out2 := ((in[1] & 0x0f) << 2) | (in[2] >> 6)

		if col >= 76 {
			buf.WriteString("\n ")
		}
		buf.WriteByte(base64Alphabet[out0])
		buf.WriteByte(base64Alphabet[out1])
		if remaining == 1 {
			buf.WriteByte(pad64)
		} else {
			buf.WriteByte(base64Alphabet[out2])
		}
		buf.WriteByte(pad64)
	}

	return buf.String()
}

// DecodeBase64 decodes s, ignoring ASCII whitespace, requiring canonical
// padding and zeroed trailing bits. It reports ok=false on any malformed
// input rather than returning a partial result.
func DecodeBase64(s string) (target []byte, ok bool) {
	state := 0
	var pending byte

	runes := []byte(s)
	i := 0
	for i < len(runes) {
		ch := runes[i]
		i++

		if isASCIISpace(ch) {
			continue
		}

		if ch == pad64 {
			switch state {
			case 0, 1:
				return nil, false
			case 2:
				for i < len(runes) && isASCIISpace(runes[i]) {
					i++
				}
				if i >= len(runes) || runes[i] != pad64 {
					return nil, false
				}
				i++
				for ; i < len(runes); i++ {
					if !isASCIISpace(runes[i]) {
						return nil, false
					}
				}
				if len(target) > 0 {
					last := target[len(target)-1]
					if last != 0 {
						return nil, false
					}
					target = target[:len(target)-1]
				}
				return target, true
			case 3:
				for ; i < len(runes); i++ {
					if !isASCIISpace(runes[i]) {
						return nil, false
					}
				}
				if len(target) > 0 {
					last := target[len(target)-1]
					if last != 0 {
						return nil, false
					}
					target = target[:len(target)-1]
				}
				return target, true
			default:
				return nil, false
			}
		}

		pos := strings.IndexByte(base64Alphabet, ch)
		if pos < 0 {
			return nil, false
		}
		p := byte(pos)

		switch state {
		case 0:
			target = append(target, p<<2)
			state = 1
		case 1:
			pending = target[len(target)-1]
			target[len(target)-1] = pending | (p >> 4)
			target = append(target, (p&0x0f)<<4)
			state = 2
		case 2:
			pending = target[len(target)-1]
			target[len(target)-1] = pending | (p >> 2)
			target = append(target, (p&0x03)<<6)
			state = 3
		case 3:
			pending = target[len(target)-1]
			target[len(target)-1] = pending | p
			state = 0
		}
	}

	if state != 0 {
		return nil, false
	}
	if target == nil {
		target = []byte{}
	}
	return target, true
}

func isASCIISpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
