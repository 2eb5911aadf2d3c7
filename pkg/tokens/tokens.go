package tokens

import (
	"github.com/pkoukk/tiktoken-go"
)

// Encoder counts tokens for budget decisions. Implementations must be safe
// for concurrent use.
type Encoder interface {
	Count(text string) int
}

// TiktokenEncoder implements Encoder using the tiktoken BPE vocabularies.
type TiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEncoder creates an encoder for the named tiktoken encoding,
// e.g. "o200k_base" or "cl100k_base".
func NewTiktokenEncoder(encoding string) (*TiktokenEncoder, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenEncoder{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (e *TiktokenEncoder) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}
