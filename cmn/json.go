package cmn

import jsoniter "github.com/json-iterator/go"

// JSON is the shared json-iterator configuration used across every
// component that crosses a JSON boundary (documents, bulk responses,
// metadata bodies, work-item persistence). Centralizing it keeps field
// naming and number handling consistent, matching the teacher's use of a
// single jsoniter instance throughout ec/manager.go and dsort/extract.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

func MustMarshal(v interface{}) []byte {
	b, err := JSON.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func Marshal(v interface{}) ([]byte, error) { return JSON.Marshal(v) }

func Unmarshal(data []byte, v interface{}) error { return JSON.Unmarshal(data, v) }
