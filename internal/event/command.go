package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrMalformedPayload = errors.New("malformed payload")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseFrame decodes a client text frame into its envelope.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.MessageType == "" {
		return Frame{}, fmt.Errorf("%w: missing message_type", ErrMalformedFrame)
	}
	return f, nil
}

// DecodeSendMessage decodes and validates a send_message payload.
func DecodeSendMessage(data json.RawMessage) (SendMessageData, error) {
	var d SendMessageData
	if err := decodeData(data, &d); err != nil {
		return SendMessageData{}, err
	}
	return d, nil
}

// DecodeUpdateStatus decodes and validates an update_status payload.
func DecodeUpdateStatus(data json.RawMessage) (UpdateStatusData, error) {
	var d UpdateStatusData
	if err := decodeData(data, &d); err != nil {
		return UpdateStatusData{}, err
	}
	return d, nil
}

// Validate runs the struct tag checks on a command payload.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Validate(v)
}
