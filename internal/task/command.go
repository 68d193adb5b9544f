package task

// Command is a result message sent from an executor to the store writer.
// The set of commands is closed: Processed, Cancelled and Break.
type Command interface {
	command()
}

// Processed asks the writer to mark Name as PROCESSED.
type Processed struct {
	Name   string
	Detail string
}

// Cancelled asks the writer to mark Name as CANCELLED.
type Cancelled struct {
	Name   string
	Detail string
}

// Break stops the writer once every command queued before it is applied.
type Break struct{}

func (Processed) command() {}
func (Cancelled) command() {}
func (Break) command()     {}
