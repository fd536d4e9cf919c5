package prompt

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// TokenModel is the model whose encoding family the counter mirrors.
const TokenModel = "gpt-3.5-turbo"

var loaderOnce sync.Once

// Counter measures prompt length in model tokens.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter builds a counter from the embedded BPE ranks, so no network
// access is needed at startup.
func NewCounter() (*Counter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(TokenModel)
	if err != nil {
		return nil, fmt.Errorf("load encoding for %s: %w", TokenModel, err)
	}
	return &Counter{enc: enc}, nil
}

func (c *Counter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
