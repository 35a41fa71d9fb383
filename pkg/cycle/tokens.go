package cycle

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/colony/pkg/protocol"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// messageTokens approximates one message's prompt cost. The cl100k_base
// encoding is close enough for every provider; when it cannot be loaded
// the len/4 heuristic applies.
func messageTokens(msg protocol.Message) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	// Per-message role framing overhead.
	total := 4
	if encoding != nil {
		total += len(encoding.Encode(msg.Content, nil, nil))
	} else {
		total += len(msg.Content) / 4
	}
	return total
}

// estimateTokens approximates the prompt size of a prepared history.
func estimateTokens(history []protocol.Message) int {
	total := 0
	for _, msg := range history {
		total += messageTokens(msg)
	}
	return total
}

// trimToBudget drops the oldest unprotected messages until the history fits
// the token budget. The first protect messages (the system prompt and, for
// Admin, the framework status) and the newest message are always kept.
// Returns the trimmed history and the number of messages dropped.
func trimToBudget(history []protocol.Message, protect, budget int) ([]protocol.Message, int) {
	counts := make([]int, len(history))
	total := 0
	for i, msg := range history {
		counts[i] = messageTokens(msg)
		total += counts[i]
	}

	dropped := 0
	for total > budget && len(history)-dropped > protect+1 {
		total -= counts[protect+dropped]
		dropped++
	}
	if dropped == 0 {
		return history, 0
	}

	trimmed := make([]protocol.Message, 0, len(history)-dropped)
	trimmed = append(trimmed, history[:protect]...)
	trimmed = append(trimmed, history[protect+dropped:]...)
	return trimmed, dropped
}
