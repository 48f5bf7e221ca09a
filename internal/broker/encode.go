package broker

import "encoding/json"

func marshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
