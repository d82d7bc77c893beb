package cache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// record 是所有后端共享的持久化结构。
type record struct {
	Key      string              `msgpack:"key"`
	Status   int                 `msgpack:"status"`
	Header   map[string][]string `msgpack:"header"`
	Body     []byte              `msgpack:"body"`
	StoredAt time.Time           `msgpack:"stored_at"`
}

func encodeEntry(entry *Entry) ([]byte, error) {
	rec := record{
		Key:      string(entry.Key),
		StoredAt: entry.StoredAt.UTC(),
	}
	if entry.Response != nil {
		rec.Status = entry.Response.Status
		rec.Header = map[string][]string(entry.Response.Header)
		rec.Body = entry.Response.Body
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", entry.Key, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	header := http.Header(rec.Header)
	if header == nil {
		header = http.Header{}
	}
	return &Entry{
		Key: Key(rec.Key),
		Response: &Response{
			Status: rec.Status,
			Header: header,
			Body:   rec.Body,
		},
		StoredAt: rec.StoredAt,
	}, nil
}

// newEntry 在写入前生成记录，复制响应以免调用方后续修改头部。
func newEntry(key Key, resp *Response, now time.Time) *Entry {
	return &Entry{
		Key:      key,
		Response: resp.Clone(),
		StoredAt: now.UTC(),
	}
}
