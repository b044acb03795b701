package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordFormatVersionCurrent = 1

const (
	flagActive byte = 1 << iota
)

// Encode serializes r into the current binary record format.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if err := writeShort(&buf, r.SessionID, "sessionID"); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, r.UserID, "userID"); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, r.DeviceFingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, r.IP, "ip"); err != nil {
		return nil, err
	}

	if len(r.UserAgent) > 0xFFFF {
		return nil, errors.New("userAgent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(r.UserAgent)

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.LastActivity); err != nil {
		return nil, err
	}

	var flags byte
	if r.Active {
		flags |= flagActive
	}
	buf.WriteByte(flags)

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. Trailing bytes are rejected.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid record version")
	}

	r := &Record{}
	if r.SessionID, err = readShort(reader); err != nil {
		return nil, err
	}
	if r.UserID, err = readShort(reader); err != nil {
		return nil, err
	}
	if r.DeviceFingerprint, err = readShort(reader); err != nil {
		return nil, err
	}
	if r.IP, err = readShort(reader); err != nil {
		return nil, err
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	r.UserAgent = string(ua)

	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.LastActivity); err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^flagActive != 0 {
		return nil, errors.New("unknown record flags")
	}
	r.Active = flags&flagActive != 0

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in record")
	}
	return r, nil
}

func writeShort(buf *bytes.Buffer, s, field string) error {
	if len(s) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readShort(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
