package pipeline

import "fmt"

// Kind is a stable error identifier; it is the only failure detail that
// crosses the consumer boundary besides the message.
type Kind string

const (
	KindUnreadableMedia      Kind = "UnreadableMedia"
	KindFileTooLarge         Kind = "FileTooLarge"
	KindNoAudio              Kind = "NoAudio"
	KindOCRUnavailable       Kind = "OCRUnavailable"
	KindTranscriptionFailed  Kind = "TranscriptionFailed"
	KindNoExtractableContent Kind = "NoExtractableContent"
	KindLLMUnavailable       Kind = "LLMUnavailable"
	KindLLMTimeout           Kind = "LLMTimeout"
	KindLLMMalformedReply    Kind = "LLMMalformedReply"
	KindSynthesisMalformed   Kind = "SynthesisMalformed"
	KindPersistenceFailed    Kind = "PersistenceFailed"
	KindCancelled            Kind = "Cancelled"
	KindTimeout              Kind = "Timeout"

	// KindUnknownJob is an API-surface error, not a pipeline failure: the
	// caller asked about a job id this process has never seen.
	KindUnknownJob Kind = "UnknownJob"
)

type Error struct {
	Kind      Kind
	Message   string
	Stage     Stage
	Retriable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
}

func newError(kind Kind, stage Stage, retriable bool, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Stage:     stage,
		Retriable: retriable,
	}
}
