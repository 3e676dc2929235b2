package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot 是落盘的响应快照：状态码、响应头与完整正文。
// 网络响应正文只能读取一次，因此写缓存与返回调用方都基于独立的 Snapshot 副本。
type Snapshot struct {
	Key        Fingerprint `msgpack:"key"`
	Status     int         `msgpack:"status"`
	StatusText string      `msgpack:"status_text"`
	Header     http.Header `msgpack:"header"`
	Body       []byte      `msgpack:"body"`
	StoredAt   time.Time   `msgpack:"stored_at"`
}

// Capture 完整读取并关闭 resp.Body，生成快照。
func Capture(resp *http.Response) (*Snapshot, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}
	var body []byte
	if resp.Body != nil {
		defer resp.Body.Close()
		read, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = read
	}
	snap := &Snapshot{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	if snap.Header == nil {
		snap.Header = http.Header{}
	}
	if resp.Request != nil {
		snap.Key = FingerprintFor(resp.Request)
	}
	return snap, nil
}

// Synthesize 构造一个本地合成的纯文本响应，用于离线兜底。
func Synthesize(status int, statusText, body string) *Snapshot {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &Snapshot{
		Status:     status,
		StatusText: statusText,
		Header:     header,
		Body:       []byte(body),
	}
}

// Clone 深拷贝快照，保证两个副本互不影响。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Header = s.Header.Clone()
	if dup.Header == nil {
		dup.Header = http.Header{}
	}
	dup.Body = append([]byte(nil), s.Body...)
	return &dup
}

// Response 基于快照构造一个全新的 http.Response，每次调用互相独立。
func (s *Snapshot) Response(req *http.Request) *http.Response {
	dup := s.Clone()
	text := dup.StatusText
	if text == "" {
		text = http.StatusText(dup.Status)
	}
	return &http.Response{
		Status:        strconv.Itoa(dup.Status) + " " + text,
		StatusCode:    dup.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        dup.Header,
		Body:          io.NopCloser(bytes.NewReader(dup.Body)),
		ContentLength: int64(len(dup.Body)),
		Request:       req,
	}
}

func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func encodeSnapshot(snap *Snapshot) ([]byte, error) {
	return msgpack.Marshal(snap)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Header == nil {
		snap.Header = http.Header{}
	}
	return &snap, nil
}
