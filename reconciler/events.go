package reconciler

// DefaultBuffer is the capacity of the event channel between the producer and Reconcile
const DefaultBuffer = 64

// Event is produced by a model stream.
// The concrete types are TextDelta, ToolInvocation, ToolResult, Terminal and Failure.
type Event interface {
	event()
}

// TextDelta is a chunk of assistant text
type TextDelta struct {
	Text string
}

// ToolInvocation is a tool call requested by the model
type ToolInvocation struct {
	ID   string
	Tool string
	// Input is the tool input: a JSON document as string or bytes, or a decoded value
	Input any
}

// ToolResult is the payload returned for the invocation with ID
type ToolResult struct {
	ID      string
	Payload any
}

// Terminal is the final result of the stream
type Terminal struct {
	Result string
}

// Failure aborts the stream
type Failure struct {
	Err error
}

func (TextDelta) event()      {}
func (ToolInvocation) event() {}
func (ToolResult) event()     {}
func (Terminal) event()       {}
func (Failure) event()        {}
