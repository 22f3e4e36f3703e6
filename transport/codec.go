package transport

import "encoding/json"

func encodeBody(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decodeBody(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}
