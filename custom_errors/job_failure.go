package custom_errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// JobFailure is returned to a publisher whose job was rejected. Document holds
// the failure exactly as it was stored in the job's result column.
type JobFailure struct {
	JobID    int64
	Document json.RawMessage
}

func (f *JobFailure) Error() string {
	if msg := f.Message(); msg != "" {
		return fmt.Sprintf("job %d rejected: %s", f.JobID, msg)
	}
	return fmt.Sprintf("job %d rejected: %s", f.JobID, string(f.Document))
}

// Message returns the "message" property of the stored document, or the
// fallback "string" property when the original error could not be serialized.
func (f *JobFailure) Message() string {
	var doc map[string]any
	if err := json.Unmarshal(f.Document, &doc); err != nil {
		return ""
	}
	if msg, ok := doc["message"].(string); ok {
		return msg
	}
	if msg, ok := doc["string"].(string); ok {
		return msg
	}
	return ""
}

// SerializeError turns err into a JSON object holding every exported field of
// the error value plus its message, type name and the messages of any wrapped
// errors.
func SerializeError(err error) (doc json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			doc = fallbackDocument(err)
		}
	}()

	if err == nil {
		return json.RawMessage(`null`)
	}

	fields := make(map[string]any)
	if raw, marshalErr := json.Marshal(err); marshalErr == nil {
		var props map[string]any
		if json.Unmarshal(raw, &props) == nil {
			for k, v := range props {
				fields[k] = v
			}
		}
	}

	fields["message"] = err.Error()
	fields["name"] = reflect.TypeOf(err).String()

	var causes []string
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		causes = append(causes, cause.Error())
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			causes = append(causes, e.Error())
		}
	}
	if len(causes) > 0 {
		fields["causes"] = causes
	}

	out, marshalErr := json.Marshal(fields)
	if marshalErr != nil {
		return fallbackDocument(err)
	}
	return out
}

func fallbackDocument(err error) json.RawMessage {
	var str string
	func() {
		defer func() { _ = recover() }()
		str = err.Error()
	}()
	out, _ := json.Marshal(map[string]any{
		"failedToSerializeError": true,
		"string":                 str,
	})
	return out
}
