package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var errFieldTooLong = errors.New("record field length exceeded")

func writeString16(buf *bytes.Buffer, v string) error {
	if len(v) > 65535 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString16(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
		return
	}
	buf.WriteByte(0)
}

func readBool(reader *bytes.Reader) (bool, error) {
	b, err := reader.ReadByte()
	if err != nil {
		return false, err
	}
	return b == 1, nil
}
