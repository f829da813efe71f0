package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"cv-recommender/domain"
)

// decodePayload parses a JSON object body. Numbers are kept as json.Number so numeric ids
// survive exactly.
func decodePayload(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, domain.Dropped(domain.OpDecodeEvent, fmt.Sprintf("invalid json: %v", err))
	}
	if payload == nil {
		return nil, domain.Dropped(domain.OpDecodeEvent, "payload is not an object")
	}
	return payload, nil
}

// decodeInto maps a parsed payload onto out, coercing numbers and booleans to strings.
func decodeInto(payload map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := d.Decode(payload); err != nil {
		return domain.Dropped(domain.OpDecodeEvent, fmt.Sprintf("unexpected field types: %v", err))
	}
	return nil
}

func decodeEvent(body []byte, out any) error {
	payload, err := decodePayload(body)
	if err != nil {
		return err
	}
	return decodeInto(payload, out)
}
