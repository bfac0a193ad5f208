package awareness

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrMalformedFrame = errors.New("awareness: malformed frame")

// Entry 是一条状态更新；State 为 nil 表示该客户端已离开。
type Entry struct {
	ClientID ClientID `msgpack:"clientId"`
	Clock    uint32   `msgpack:"clock"`
	State    State    `msgpack:"state"`
}

type frame struct {
	Entries []Entry `msgpack:"entries"`
}

func EncodeUpdate(entries ...Entry) ([]byte, error) {
	return msgpack.Marshal(frame{Entries: entries})
}

func DecodeUpdate(b []byte) ([]Entry, error) {
	var f frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f.Entries, nil
}
