package cryptoutils

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

// ContentEncoding names how user-supplied content is turned into bytes and back.
type ContentEncoding string

const (
	EncodingUTF8   ContentEncoding = "utf8"
	EncodingASCII  ContentEncoding = "ascii"
	EncodingHex    ContentEncoding = "hex"
	EncodingBase64 ContentEncoding = "base64"
)

// ParseContentEncoding maps a name to a ContentEncoding. The empty string means utf8.
func ParseContentEncoding(name string) (ContentEncoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf8":
		return EncodingUTF8, nil
	case "ascii":
		return EncodingASCII, nil
	case "hex":
		return EncodingHex, nil
	case "base64":
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("%w: unknown encoding %q", interfaces.ErrInvalidArgument, name)
	}
}

// DecodeContent converts text in the given encoding to raw bytes.
func DecodeContent(text string, enc ContentEncoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8, "":
		if !utf8.ValidString(text) {
			return nil, fmt.Errorf("%w: content is not valid utf8", interfaces.ErrDecode)
		}
		return []byte(text), nil
	case EncodingASCII:
		for i := 0; i < len(text); i++ {
			if text[i] > 0x7f {
				return nil, fmt.Errorf("%w: content is not ascii", interfaces.ErrDecode)
			}
		}
		return []byte(text), nil
	case EncodingHex:
		data, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
		}
		return data, nil
	case EncodingBase64:
		data, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", interfaces.ErrInvalidArgument, enc)
	}
}

// EncodeContent renders raw bytes as text in the given encoding.
func EncodeContent(data []byte, enc ContentEncoding) (string, error) {
	switch enc {
	case EncodingUTF8, "":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: content is not valid utf8, try hex or base64", interfaces.ErrDecode)
		}
		return string(data), nil
	case EncodingASCII:
		for _, b := range data {
			if b > 0x7f {
				return "", fmt.Errorf("%w: content is not ascii, try hex or base64", interfaces.ErrDecode)
			}
		}
		return string(data), nil
	case EncodingHex:
		return hex.EncodeToString(data), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("%w: unknown encoding %q", interfaces.ErrInvalidArgument, enc)
	}
}
