// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package pnet

import (
	"bytes"
	"encoding/binary"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/neowu/mysqlconn/lib/util/errors"
)

var (
	ErrMalformedHandshake = errors.New("malformed initial handshake packet")
)

// InitialHandshake is the greeting sent by the server right after the TCP
// connection is established.
type InitialHandshake struct {
	ServerVersion string
	AuthPlugin    string
	Salt          []byte
	ConnID        uint32
	Capability    Capability
	Status        uint16
	Collation     uint8
}

// ParseInitialHandshake parses the initial handshake received from the server.
func ParseInitialHandshake(data []byte) (*InitialHandshake, error) {
	if len(data) < 1 || data[0] != 10 {
		return nil, errors.Wrapf(ErrMalformedHandshake, "unsupported protocol version %d", data[0])
	}
	hs := new(InitialHandshake)
	idx := bytes.IndexByte(data[1:], 0)
	if idx < 0 {
		return nil, errors.WithStack(ErrMalformedHandshake)
	}
	hs.ServerVersion = string(data[1 : 1+idx])
	pos := 1 + idx + 1

	if len(data) < pos+4+8+1+2 {
		return nil, errors.WithStack(ErrMalformedHandshake)
	}
	hs.ConnID = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	// auth-plugin-data-part-1
	hs.Salt = append(hs.Salt, data[pos:pos+8]...)
	pos += 8
	// filler
	pos++

	// capability lower 2 bytes
	capability := uint32(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2

	if len(data) > pos {
		hs.Collation = data[pos]
		pos++
		hs.Status = binary.LittleEndian.Uint16(data[pos : pos+2])
		pos += 2
		// capability flags (upper 2 bytes)
		capability = uint32(binary.LittleEndian.Uint16(data[pos:pos+2]))<<16 | capability
		pos += 2

		authDataLen := int(data[pos])
		pos++
		// reserved (all [00])
		pos += 10

		if Capability(capability)&ClientSecureConnection != 0 {
			// auth-plugin-data-part-2: at least 12 bytes besides the trailing NUL
			saltLen := authDataLen - 8 - 1
			if saltLen < 12 {
				saltLen = 12
			}
			if len(data) < pos+saltLen {
				return nil, errors.WithStack(ErrMalformedHandshake)
			}
			hs.Salt = append(hs.Salt, data[pos:pos+saltLen]...)
			pos += saltLen + 1
		}

		if Capability(capability)&ClientPluginAuth != 0 && len(data) > pos {
			plugin, _ := ParseNullTermString(data[pos:])
			// some servers miss the trailing NUL
			if plugin == nil {
				plugin = data[pos:]
			}
			hs.AuthPlugin = string(plugin)
		}
	}
	hs.Capability = Capability(capability)
	return hs, nil
}

// HandshakeResp is the HandshakeResponse41 sent by the client, also parsed by
// the in-process test server.
type HandshakeResp struct {
	Attrs      map[string]string
	User       string
	DB         string
	AuthPlugin string
	AuthData   []byte
	ZstdLevel  int
	Capability Capability
	Collation  uint8
}

func ParseHandshakeResponse(data []byte) (*HandshakeResp, error) {
	resp := new(HandshakeResp)
	pos := 0
	// capability
	resp.Capability = Capability(binary.LittleEndian.Uint32(data[:4]))
	pos += 4
	// skip max packet size
	pos += 4
	// charset
	resp.Collation = data[pos]
	pos++
	// skip reserved 23[00]
	pos += 23

	// user name
	resp.User = string(data[pos : pos+bytes.IndexByte(data[pos:], 0)])
	pos += len(resp.User) + 1

	// password
	if resp.Capability&ClientPluginAuthLenencClientData > 0 {
		if data[pos] == 0x1 { // No auth data
			pos += 2
		} else {
			num, null, off := ParseLengthEncodedInt(data[pos:])
			pos += off
			if !null {
				resp.AuthData = data[pos : pos+int(num)]
				pos += int(num)
			}
		}
	} else if resp.Capability&ClientSecureConnection > 0 {
		authLen := int(data[pos])
		pos++
		resp.AuthData = data[pos : pos+authLen]
		pos += authLen
	} else {
		resp.AuthData = data[pos : pos+bytes.IndexByte(data[pos:], 0)]
		pos += len(resp.AuthData) + 1
	}

	// dbname
	if resp.Capability&ClientConnectWithDB > 0 {
		if len(data[pos:]) > 0 {
			idx := bytes.IndexByte(data[pos:], 0)
			resp.DB = string(data[pos : pos+idx])
			pos = pos + idx + 1
		}
	}

	// auth plugin
	if resp.Capability&ClientPluginAuth > 0 {
		idx := bytes.IndexByte(data[pos:], 0)
		s := pos
		f := pos + idx
		if s < f { // handle unexpected bad packets
			resp.AuthPlugin = string(data[s:f])
		}
		pos += idx + 1
	}

	// attrs
	var err error
	if resp.Capability&ClientConnectAttrs > 0 {
		if num, null, off := ParseLengthEncodedInt(data[pos:]); !null {
			pos += off
			row := data[pos : pos+int(num)]
			resp.Attrs, err = parseAttrs(row)
			if err != nil {
				err = errors.Wrapf(err, "parse attrs failed")
			}
			pos += int(num)
		}
	}

	// zstd compression level
	if resp.Capability&ClientZstdCompressionAlgorithm > 0 {
		if len(data) > pos {
			resp.ZstdLevel = int(data[pos])
		}
	}
	// data belongs to the reusable packet buffer
	resp.AuthData = append([]byte(nil), resp.AuthData...)
	return resp, err
}

func parseAttrs(data []byte) (map[string]string, error) {
	attrs := make(map[string]string)
	pos := 0
	for pos < len(data) {
		key, _, off, err := ParseLengthEncodedBytes(data[pos:])
		if err != nil {
			return attrs, err
		}
		pos += off
		value, _, off, err := ParseLengthEncodedBytes(data[pos:])
		if err != nil {
			return attrs, err
		}
		pos += off

		attrs[string(key)] = string(value)
	}
	return attrs, nil
}

func dumpAttrs(attrs map[string]string) []byte {
	var buf bytes.Buffer
	var keyBuf []byte
	for k, v := range attrs {
		keyBuf = keyBuf[0:0]
		keyBuf = DumpLengthEncodedString(keyBuf, []byte(k))
		buf.Write(keyBuf)
		keyBuf = keyBuf[0:0]
		keyBuf = DumpLengthEncodedString(keyBuf, []byte(v))
		buf.Write(keyBuf)
	}
	return buf.Bytes()
}

func MakeHandshakeResponse(resp *HandshakeResp) []byte {
	// encode length of the auth data
	var (
		authRespBuf, attrLenBuf  [9]byte
		authResp, attrs, attrBuf []byte
	)
	authResp = DumpLengthEncodedInt(authRespBuf[:0], uint64(len(resp.AuthData)))
	capability := resp.Capability
	if len(authResp) > 1 {
		capability |= ClientPluginAuthLenencClientData
	} else {
		capability &= ^ClientPluginAuthLenencClientData
	}
	if capability&ClientConnectAttrs > 0 {
		attrs = dumpAttrs(resp.Attrs)
		attrBuf = DumpLengthEncodedInt(attrLenBuf[:0], uint64(len(attrs)))
	}

	length := 4 + 4 + 1 + 23 + len(resp.User) + 1 + len(authResp) + len(resp.AuthData) + len(resp.DB) + 1 + len(resp.AuthPlugin) + 1 + len(attrBuf) + len(attrs) + 1
	data := make([]byte, length)
	pos := 0
	// capability [32 bit]
	DumpUint32(data[:0], capability.Uint32())
	pos += 4
	// MaxPacketSize [32 bit]
	pos += 4
	// Charset [1 byte]
	data[pos] = resp.Collation
	pos++
	// Filler [23 bytes] (all 0x00)
	pos += 23

	// User [null terminated string]
	pos += copy(data[pos:], resp.User)
	data[pos] = 0x00
	pos++

	// auth data
	if capability&ClientPluginAuthLenencClientData > 0 {
		pos += copy(data[pos:], authResp)
		pos += copy(data[pos:], resp.AuthData)
	} else if capability&ClientSecureConnection > 0 {
		data[pos] = byte(len(resp.AuthData))
		pos++
		pos += copy(data[pos:], resp.AuthData)
	} else {
		pos += copy(data[pos:], resp.AuthData)
		data[pos] = 0x00
		pos++
	}

	// db [null terminated string]
	if capability&ClientConnectWithDB > 0 {
		pos += copy(data[pos:], resp.DB)
		data[pos] = 0x00
		pos++
	}

	// auth_plugin [null terminated string]
	if capability&ClientPluginAuth > 0 {
		pos += copy(data[pos:], resp.AuthPlugin)
		data[pos] = 0x00
		pos++
	}

	// attrs
	if capability&ClientConnectAttrs > 0 {
		pos += copy(data[pos:], attrBuf)
		pos += copy(data[pos:], attrs)
	}

	// zstd compression level
	if capability&ClientZstdCompressionAlgorithm > 0 {
		data[pos] = byte(resp.ZstdLevel)
		pos++
	}
	return data[:pos]
}

// MakeSSLRequest creates the short handshake response that precedes the TLS
// handshake. It shares the prefix layout with HandshakeResponse41.
func MakeSSLRequest(capability Capability, collation uint8) []byte {
	data := make([]byte, 4+4+1+23)
	DumpUint32(data[:0], (capability | ClientSSL).Uint32())
	data[8] = collation
	return data
}

// ParseOKPacket transforms an OK packet into a Result object.
func ParseOKPacket(data []byte, capability Capability) *gomysql.Result {
	var n int
	var pos = 1
	r := new(gomysql.Result)
	r.AffectedRows, _, n = ParseLengthEncodedInt(data[pos:])
	pos += n
	r.InsertId, _, n = ParseLengthEncodedInt(data[pos:])
	pos += n
	if capability&ClientProtocol41 > 0 {
		r.Status = binary.LittleEndian.Uint16(data[pos:])
		pos += 2
		r.Warnings = binary.LittleEndian.Uint16(data[pos:])
	}
	return r
}

// ParseErrorPacket transforms an error packet into a MyError object. The
// sql-state marker is optional: errors sent before the handshake completes,
// such as host-blocked errors, carry the message right after the code.
func ParseErrorPacket(data []byte) error {
	if len(data) < 3 {
		return errors.Wrapf(errMalformPacket, "error packet is %d bytes", len(data))
	}
	e := new(gomysql.MyError)
	e.Code = binary.LittleEndian.Uint16(data[1:])
	pos := 3
	if pos < len(data) && data[pos] == '#' {
		if len(data) < pos+6 {
			return errors.Wrapf(errMalformPacket, "error packet truncated inside the sql state")
		}
		e.State = string(data[pos+1 : pos+6])
		pos += 6
	}
	e.Message = string(data[pos:])
	return e
}

// ParseEOFPacket returns the status flags and the warning count of an EOF packet.
func ParseEOFPacket(data []byte) (status, warnings uint16) {
	warnings = binary.LittleEndian.Uint16(data[1:])
	status = binary.LittleEndian.Uint16(data[3:])
	return
}

// AuthSwitchRequest is sent by the server when it wants another auth plugin.
type AuthSwitchRequest struct {
	Plugin string
	Salt   []byte
}

func ParseAuthSwitchRequest(data []byte) *AuthSwitchRequest {
	req := new(AuthSwitchRequest)
	plugin, remain := ParseNullTermString(data[1:])
	req.Plugin = string(plugin)
	// the salt may have a trailing NUL
	if n := len(remain); n > 0 && remain[n-1] == 0 {
		remain = remain[:n-1]
	}
	req.Salt = append([]byte(nil), remain...)
	return req
}

// IsOKPacket returns true if it's an OK packet (but not ResultSet OK).
func IsOKPacket(data []byte) bool {
	return Header(data[0]) == OKHeader
}

// IsEOFPacket returns true if it's an EOF packet.
func IsEOFPacket(data []byte) bool {
	return Header(data[0]) == EOFHeader && len(data) <= 5
}

// IsResultSetOKPacket returns true if it's an OK packet after the result set when CLIENT_DEPRECATE_EOF is enabled.
// A row packet may also begin with 0xfe, so we need to judge it with the packet length.
// See https://mariadb.com/kb/en/result-set-packets/
func IsResultSetOKPacket(data []byte) bool {
	// With CLIENT_PROTOCOL_41 enabled, the least length is 7.
	return Header(data[0]) == EOFHeader && len(data) >= 7 && len(data) < 0xFFFFFF
}

// IsErrorPacket returns true if it's an error packet.
func IsErrorPacket(data []byte) bool {
	return Header(data[0]) == ErrHeader
}

// IsAuthSwitchRequest distinguishes an auth switch from EOF by length.
func IsAuthSwitchRequest(data []byte) bool {
	return Header(data[0]) == AuthSwitchHeader && len(data) > 5
}

// ColumnDef is a column definition in a result set.
// Ref https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_com_query_response_text_resultset_column_definition.html.
type ColumnDef struct {
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	ColumnLength uint32
	Charset      uint16
	Flag         uint16
	Type         byte
	Decimal      byte
}

func ParseColumnDef(data []byte) (*ColumnDef, error) {
	def := new(ColumnDef)
	pos := 0
	for _, field := range []*string{nil, &def.Schema, &def.Table, &def.OrgTable, &def.Name, &def.OrgName} {
		str, _, off, err := ParseLengthEncodedBytes(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += off
		if field != nil {
			*field = string(str)
		}
	}
	// length of fixed fields
	_, _, n := ParseLengthEncodedInt(data[pos:])
	pos += n
	if len(data) < pos+10 {
		return nil, errors.WithStack(errMalformPacket)
	}
	def.Charset = binary.LittleEndian.Uint16(data[pos:])
	pos += 2
	def.ColumnLength = binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	def.Type = data[pos]
	pos++
	def.Flag = binary.LittleEndian.Uint16(data[pos:])
	pos += 2
	def.Decimal = data[pos]
	return def, nil
}

// DumpColumnDef serializes a column definition. It's only used for testing.
func DumpColumnDef(def *ColumnDef) []byte {
	data := make([]byte, 0, 64)
	data = DumpLengthEncodedString(data, []byte("def"))
	data = DumpLengthEncodedString(data, []byte(def.Schema))
	data = DumpLengthEncodedString(data, []byte(def.Table))
	data = DumpLengthEncodedString(data, []byte(def.OrgTable))
	data = DumpLengthEncodedString(data, []byte(def.Name))
	data = DumpLengthEncodedString(data, []byte(def.OrgName))
	data = append(data, 0x0c)
	data = DumpUint16(data, def.Charset)
	data = DumpUint32(data, def.ColumnLength)
	data = append(data, def.Type)
	data = DumpUint16(data, def.Flag)
	data = append(data, def.Decimal)
	data = append(data, 0, 0)
	return data
}

// ParseTextRow splits a text protocol row into per-column values.
// A nil value denotes SQL NULL. Values are copied out of data, which belongs
// to the reusable packet buffer and is overwritten by the next read.
func ParseTextRow(data []byte, columns int) ([][]byte, error) {
	values := make([][]byte, columns)
	pos := 0
	for i := 0; i < columns; i++ {
		if pos >= len(data) {
			return nil, errors.WithStack(errMalformPacket)
		}
		v, isNull, n, err := ParseLengthEncodedBytes(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if isNull {
			values[i] = nil
		} else {
			values[i] = append(make([]byte, 0, len(v)), v...)
		}
	}
	return values, nil
}

// DumpTextRow serializes a text protocol row. It's only used for testing.
func DumpTextRow(values [][]byte) []byte {
	data := make([]byte, 0, 64)
	for _, v := range values {
		if v == nil {
			data = append(data, 0xfb)
		} else {
			data = DumpLengthEncodedString(data, v)
		}
	}
	return data
}
