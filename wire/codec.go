package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// MaxMessageBytes bounds a single frame's body: the 2-byte length prefix
// can address at most 65535 bytes, so WriteMessage refuses any larger
// body instead of writing a wrapped-around length.
const MaxMessageBytes = 1<<16 - 1

const (
	tagInt byte = iota
	tagAtom
	tagString
	tagBinary
	tagTuple
	tagList
)

// Codec frames and decodes Terms over an io.ReadWriter using a 2-byte
// big-endian length prefix, matching the control channel's wire framing.
// Writes are serialized with a mutex because the event loop and any
// goroutine forwarding unsolicited events may both call WriteMessage.
type Codec struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex
}

// NewCodec wraps rw for framed Term exchange.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{r: bufio.NewReader(rw), w: rw}
}

// ReadMessage blocks for the next length-prefixed frame and decodes its
// body as a single Term (conventionally a 2-tuple {TransId, Body}).
func (c *Codec) ReadMessage() (Term, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return Term{}, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return Term{}, err
	}
	t, rest, err := decodeTerm(body)
	if err != nil {
		return Term{}, err
	}
	if len(rest) != 0 {
		return Term{}, fmt.Errorf("badarg: trailing bytes after term")
	}
	return t, nil
}

// WriteMessage encodes t and writes it as one length-prefixed frame.
func (c *Codec) WriteMessage(t Term) error {
	body := encodeTerm(nil, t)
	if len(body) > MaxMessageBytes {
		return fmt.Errorf("message too large: %d bytes", len(body))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.w.Write(body)
	return err
}

func encodeTerm(buf []byte, t Term) []byte {
	switch t.Kind {
	case KindInt:
		buf = append(buf, tagInt)
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], uint64(t.Int))
		return append(buf, v[:]...)
	case KindAtom:
		buf = append(buf, tagAtom, byte(len(t.Atom)))
		return append(buf, t.Atom...)
	case KindString:
		buf = append(buf, tagString)
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], uint32(len(t.Str)))
		buf = append(buf, v[:]...)
		return append(buf, t.Str...)
	case KindBinary:
		buf = append(buf, tagBinary)
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], uint32(len(t.Bin)))
		buf = append(buf, v[:]...)
		return append(buf, t.Bin...)
	case KindTuple:
		buf = append(buf, tagTuple, byte(len(t.Tuple)))
		for _, e := range t.Tuple {
			buf = encodeTerm(buf, e)
		}
		return buf
	case KindList:
		buf = append(buf, tagList)
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], uint32(len(t.List)))
		buf = append(buf, v[:]...)
		for _, e := range t.List {
			buf = encodeTerm(buf, e)
		}
		return buf
	default:
		panic(fmt.Sprintf("wire: invalid term kind %d", t.Kind))
	}
}

func decodeTerm(b []byte) (Term, []byte, error) {
	if len(b) < 1 {
		return Term{}, nil, fmt.Errorf("badarg: truncated term")
	}
	tag, b := b[0], b[1:]
	switch tag {
	case tagInt:
		if len(b) < 8 {
			return Term{}, nil, fmt.Errorf("badarg: truncated int")
		}
		return Int(int64(binary.BigEndian.Uint64(b[:8]))), b[8:], nil
	case tagAtom:
		if len(b) < 1 {
			return Term{}, nil, fmt.Errorf("badarg: truncated atom")
		}
		n := int(b[0])
		b = b[1:]
		if len(b) < n {
			return Term{}, nil, fmt.Errorf("badarg: truncated atom body")
		}
		return Atom(string(b[:n])), b[n:], nil
	case tagString:
		if len(b) < 4 {
			return Term{}, nil, fmt.Errorf("badarg: truncated string length")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		if len(b) < n {
			return Term{}, nil, fmt.Errorf("badarg: truncated string body")
		}
		return Str(string(b[:n])), b[n:], nil
	case tagBinary:
		if len(b) < 4 {
			return Term{}, nil, fmt.Errorf("badarg: truncated binary length")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		if len(b) < n {
			return Term{}, nil, fmt.Errorf("badarg: truncated binary body")
		}
		cp := make([]byte, n)
		copy(cp, b[:n])
		return Binary(cp), b[n:], nil
	case tagTuple:
		if len(b) < 1 {
			return Term{}, nil, fmt.Errorf("badarg: truncated tuple")
		}
		n := int(b[0])
		b = b[1:]
		if n > len(b) {
			return Term{}, nil, fmt.Errorf("badarg: tuple arity %d exceeds remaining frame", n)
		}
		elems := make([]Term, n)
		for i := 0; i < n; i++ {
			var e Term
			var err error
			e, b, err = decodeTerm(b)
			if err != nil {
				return Term{}, nil, err
			}
			elems[i] = e
		}
		return Term{Kind: KindTuple, Tuple: elems}, b, nil
	case tagList:
		if len(b) < 4 {
			return Term{}, nil, fmt.Errorf("badarg: truncated list length")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		if n > len(b) {
			return Term{}, nil, fmt.Errorf("badarg: list length %d exceeds remaining frame", n)
		}
		elems := make([]Term, n)
		for i := 0; i < n; i++ {
			var e Term
			var err error
			e, b, err = decodeTerm(b)
			if err != nil {
				return Term{}, nil, err
			}
			elems[i] = e
		}
		return Term{Kind: KindList, List: elems}, b, nil
	default:
		return Term{}, nil, fmt.Errorf("badarg: unknown term tag %d", tag)
	}
}
