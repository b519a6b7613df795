// internal/codec/completion.go
package codec

import "fmt"

// CompletionCode is the status byte that opens every response frame.
// Success is the only value that makes the payload trustworthy.
type CompletionCode byte

// Generic codes share the IPMI numbering. Device-specific failure codes
// live between Success and the generic range and pass through untouched.
const (
	Success          CompletionCode = 0x00
	NodeBusy         CompletionCode = 0xC0
	InvalidCommand   CompletionCode = 0xC1
	Timeout          CompletionCode = 0xC3
	InvalidLength    CompletionCode = 0xC7
	InvalidField     CompletionCode = 0xCC
	UnspecifiedError CompletionCode = 0xFF
)

func (c CompletionCode) String() string {
	switch c {
	case Success:
		return "success"
	case NodeBusy:
		return "node busy"
	case InvalidCommand:
		return "invalid command"
	case Timeout:
		return "timeout"
	case InvalidLength:
		return "invalid length"
	case InvalidField:
		return "invalid field"
	case UnspecifiedError:
		return "unspecified error"
	default:
		return fmt.Sprintf("device code 0x%02x", byte(c))
	}
}

// Completion is embedded by every response type.
type Completion struct {
	Code CompletionCode
}

// Result lets an embedding response satisfy Response. The embedded field
// is itself named Completion, so the method cannot share that name.
func (c *Completion) Result() *Completion { return c }

func (c *Completion) OK() bool { return c.Code == Success }
