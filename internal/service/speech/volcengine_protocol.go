package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎 v3 双向/单向流式语音接口的二进制帧格式：
// 4 字节头 | [sequence] | [event, session id, connect id] | [error code] | payload size | payload

const protocolVersion = 0b0001

type messageType uint8

const (
	msgFullClientRequest  messageType = 0b0001
	msgFullServerResponse messageType = 0b1001
	msgAudioOnlyResponse  messageType = 0b1011
	msgError              messageType = 0b1111
)

type messageFlags uint8

const (
	flagNoSequence       messageFlags = 0b0000
	flagPositiveSequence messageFlags = 0b0001
	flagLastNoSequence   messageFlags = 0b0010
	flagNegativeSequence messageFlags = 0b0011
	flagWithEvent        messageFlags = 0b0100
)

type serialization uint8

const (
	serializationNone serialization = 0b0000
	serializationJSON serialization = 0b0001
)

type compression uint8

const (
	compressionNone compression = 0b0000
	compressionGzip compression = 0b0001
)

type eventType int32

const (
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionStarted     eventType = 150
	eventSessionFinished    eventType = 152
	eventSessionFailed      eventType = 153
)

// frame 一条协议消息
type frame struct {
	Type          messageType
	Flags         messageFlags
	Serialization serialization
	Compression   compression

	Sequence  int32
	Event     eventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func (f *frame) hasSequence() bool {
	switch f.Flags & 0b0011 {
	case flagPositiveSequence, flagNegativeSequence:
		return true
	}
	return false
}

func (f *frame) hasEvent() bool {
	return f.Flags&flagWithEvent == flagWithEvent
}

// last 判断是否为最后一包
func (f *frame) last() bool {
	switch f.Flags & 0b0011 {
	case flagLastNoSequence, flagNegativeSequence:
		return true
	}
	return false
}

func eventCarriesSessionID(e eventType) bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return false
	}
	return true
}

func eventCarriesConnectID(e eventType) bool {
	switch e {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func encodeFrame(f *frame) []byte {
	buf := make([]byte, 0, 16+len(f.Payload))
	buf = append(buf,
		protocolVersion<<4|0b0001,
		uint8(f.Type)<<4|uint8(f.Flags),
		uint8(f.Serialization)<<4|uint8(f.Compression),
		0,
	)
	if f.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
	}
	if f.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Event))
		if eventCarriesSessionID(f.Event) {
			buf = appendSized(buf, []byte(f.SessionID))
		}
		if eventCarriesConnectID(f.Event) {
			buf = appendSized(buf, []byte(f.ConnectID))
		}
	}
	if f.Type == msgError {
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
	}
	return appendSized(buf, f.Payload)
}

func appendSized(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

var errUnsupportedVersion = errors.New("unsupported protocol version")

func decodeFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if head[0]>>4 != protocolVersion {
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, head[0]>>4)
	}
	f := &frame{
		Type:          messageType(head[1] >> 4),
		Flags:         messageFlags(head[1] & 0x0F),
		Serialization: serialization(head[2] >> 4),
		Compression:   compression(head[2] & 0x0F),
	}

	// header size is counted in 4-byte words
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	if f.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.Sequence = int32(seq)
	}

	if f.hasEvent() {
		ev, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.Event = eventType(int32(ev))
		if eventCarriesSessionID(f.Event) {
			id, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			f.SessionID = string(id)
		}
		if eventCarriesConnectID(f.Event) {
			id, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			f.ConnectID = string(id)
		}
	}

	if f.Type == msgError {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		f.ErrorCode = code
	}

	payload, err := readSized(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	f.Payload = payload
	return f, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", size, err)
	}
	return data, nil
}

// payload 返回解压后的负载
func (f *frame) payload() ([]byte, error) {
	switch f.Compression {
	case compressionNone:
		return f.Payload, nil
	case compressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(f.Payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.Compression)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// newClientRequest 创建完整客户端请求
func newClientRequest(payload []byte, method compression) (*frame, error) {
	if method == compressionGzip {
		compressed, err := gzipBytes(payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}
	return &frame{
		Type:          msgFullClientRequest,
		Flags:         flagNoSequence,
		Serialization: serializationJSON,
		Compression:   method,
		Payload:       payload,
	}, nil
}
