package protocol

import "errors"

// Command words understood by the dispatcher and by runners.
const (
	CmdStatus   = "status"
	CmdRegister = "register"
	CmdDispatch = "dispatch"
	CmdResults  = "results"
	CmdPing     = "ping"
	CmdRunTest  = "runtest"
)

// Replies written back on the same connection.
const (
	ReplyOK             = "OK"
	ReplyPong           = "pong"
	ReplyInvalidCommand = "Invalid command"
	ReplyNoRunners      = "No runners registered"
)

// Separator splits the command word from its fields.
const Separator = ":"

// RequestBufferSize bounds the first read of every request.
const RequestBufferSize = 1024

// Request is one parsed `<word>(:<field>)*` line.
type Request struct {
	Word   string
	Fields []string
	// Raw holds the bytes exactly as received; results payloads are sliced
	// from it so that colons inside the payload survive.
	Raw []byte
}

// Results is the decoded header of a results request plus whatever payload
// bytes arrived with the first read.
type Results struct {
	CommitID string
	Length   int
	Payload  []byte
}

var (
	ErrMalformed       = errors.New("malformed request")
	ErrPayloadTooLarge = errors.New("payload exceeds limit")
	ErrUnexpectedReply = errors.New("unexpected reply")
)
