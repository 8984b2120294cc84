package events

import (
	"encoding/json"
	"fmt"
)

type FrameType string

const (
	FrameInvocation FrameType = "invocation"
	FrameCompletion FrameType = "completion"
	FrameEvent      FrameType = "event"
)

// Frame is the single JSON text frame exchanged over the hub connection. An
// invocation without InvocationID is fire-and-forget and gets no completion.
type Frame struct {
	Type         FrameType         `json:"type"`
	InvocationID string            `json:"invocation_id,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewInvocation builds an invocation frame, marshalling each argument.
func NewInvocation(invocationID, method string, args ...any) (Frame, error) {
	raw, err := marshalArguments(args)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s arguments: %w", method, err)
	}
	return Frame{
		Type:         FrameInvocation,
		InvocationID: invocationID,
		Target:       method,
		Arguments:    raw,
	}, nil
}

// NewCompletion builds the reply to an invocation.
func NewCompletion(invocationID string, result any, invokeErr error) (Frame, error) {
	frame := Frame{Type: FrameCompletion, InvocationID: invocationID}
	if invokeErr != nil {
		frame.Error = invokeErr.Error()
		return frame, nil
	}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal completion result: %w", err)
		}
		frame.Result = data
	}
	return frame, nil
}

// NewEventFrame builds the push frame for ev.
func NewEventFrame(ev Event) (Frame, error) {
	raw, err := marshalArguments(ev.Arguments())
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s arguments: %w", ev.Name(), err)
	}
	return Frame{Type: FrameEvent, Target: ev.Name(), Arguments: raw}, nil
}

func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// Argument unmarshals the i-th argument into dst.
func (f Frame) Argument(i int, dst any) error {
	if i >= len(f.Arguments) {
		return fmt.Errorf("%s: missing argument %d", f.Target, i)
	}
	if err := json.Unmarshal(f.Arguments[i], dst); err != nil {
		return fmt.Errorf("%s: argument %d: %w", f.Target, i, err)
	}
	return nil
}

func marshalArguments(args []any) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return raw, nil
}
