package engine

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the layout used to render timestamps.
const TimestampLayout = "2006-01-02 15:04:05.000-0700"

// String renders v as a CQL literal.
func (v Value) String() string {
	var sb strings.Builder
	writeLiteral(&sb, v)
	return sb.String()
}

func writeLiteral(sb *strings.Builder, v Value) {
	if v.typ == nil {
		sb.WriteString("<invalid>")
		return
	}
	if v.null {
		sb.WriteString("null")
		return
	}
	switch v.typ.kind {
	case TinyInt, SmallInt, Int, BigInt, Counter:
		sb.WriteString(strconv.FormatInt(v.num, 10))
	case Varint:
		sb.WriteString(v.big.String())
	case Float:
		sb.WriteString(strconv.FormatFloat(v.flt, 'g', -1, 32))
	case Double:
		sb.WriteString(strconv.FormatFloat(v.flt, 'g', -1, 64))
	case Boolean:
		sb.WriteString(strconv.FormatBool(v.num != 0))
	case ASCII, Text:
		sb.WriteString("'" + strings.ReplaceAll(string(v.bytes), "'", "''") + "'")
	case Blob:
		sb.WriteString("0x" + hex.EncodeToString(v.bytes))
	case Timestamp:
		sb.WriteString("'" + time.UnixMilli(v.num).UTC().Format(TimestampLayout) + "'")
	case Date:
		days := int64(uint32(v.num)) - DateEpoch
		sb.WriteString("'" + time.Unix(days*86400, 0).UTC().Format(time.DateOnly) + "'")
	case List:
		writeSeq(sb, "[", "]", v.elems)
	case Set:
		writeSeq(sb, "{", "}", v.elems)
	case Tuple:
		writeSeq(sb, "(", ")", v.elems)
	case Map:
		sb.WriteByte('{')
		for i := range v.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeLiteral(sb, v.keys[i])
			sb.WriteString(": ")
			writeLiteral(sb, v.elems[i])
		}
		sb.WriteByte('}')
	case UDT:
		sb.WriteByte('{')
		for i, f := range v.typ.fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name + ": ")
			writeLiteral(sb, v.elems[i])
		}
		sb.WriteByte('}')
	}
}

func writeSeq(sb *strings.Builder, open, end string, elems []Value) {
	sb.WriteString(open)
	for i, e := range elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeLiteral(sb, e)
	}
	sb.WriteString(end)
}
