package core

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// Charset selects the on-wire encoding of a packet's text fields. All
// strings inside the core are canonical UTF-8; conversion happens only at
// the codec boundary.
type Charset int

const (
	CharsetUTF8 Charset = iota
	CharsetGBK
)

func (cs Charset) String() string {
	if cs == CharsetGBK {
		return "gbk"
	}
	return "utf-8"
}

func (cs Charset) encode(s string) ([]byte, error) {
	if cs == CharsetUTF8 {
		return []byte(s), nil
	}

	out, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCharset, err)
	}
	return out, nil
}

func (cs Charset) decode(raw []byte) (string, error) {
	if cs == CharsetUTF8 {
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("%w: invalid utf-8 sequence", ErrBadCharset)
		}
		return string(raw), nil
	}

	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCharset, err)
	}
	// The decoder substitutes U+FFFD for byte sequences outside the
	// charset instead of erroring; the charset itself has no mapping for
	// that rune, so its presence always means the input was invalid.
	if strings.ContainsRune(string(out), utf8.RuneError) {
		return "", fmt.Errorf("%w: invalid legacy byte sequence", ErrBadCharset)
	}
	return string(out), nil
}
