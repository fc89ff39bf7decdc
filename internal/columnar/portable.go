package columnar

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeError reports input that is not a valid columnar buffer or not valid
// portable text. Decoding never returns partial results alongside it.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("columnar decode: %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodePortable renders buf as standard padded base64.
func EncodePortable(buf []byte) string {
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePortable reverses EncodePortable.
func DecodePortable(text string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, &DecodeError{Op: "decode portable text", Err: err}
	}
	return decoded, nil
}
