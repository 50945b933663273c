package domain

import "encoding/json"

// FlexString decodes a JSON string, number or boolean into its text form.
// The backend emits 19-digit task ids as bare numbers; decoding them as
// float64 would lose precision.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	*s = FlexString(looseString(json.RawMessage(data)))
	return nil
}

func (s FlexString) String() string { return string(s) }
