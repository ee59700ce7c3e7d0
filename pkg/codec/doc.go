// Package codec provides the record format shared by every ringrelay transport.
//
// A record is the unit moved through ring buffers, sockets and record files.
// It is self-describing: the first header word is the exact byte length of the
// record, so no additional framing is needed anywhere.
//
// # Record Format
//
// All fields are little-endian. The header is 72 bytes (18 words):
//
//	offset  size  field
//	0       4     size          exact bytes of header + payload
//	4       4     type          RecordType (signed)
//	8       8     sec           creation time, seconds
//	16      8     usec          creation time, microseconds
//	24      4     source        node id
//	28      4     destination   node id
//	32      4     reserved1
//	36      4     object count
//	40      4     array count
//	44      28    reserved[7]
//
// The payload follows the header. Buffers owned by the codec are padded with
// zeros to a word boundary, but size never counts the padding. Record sizes
// are bounded by MaxRecordSize; anything larger, or smaller than the header,
// is a format error.
//
// # Payload
//
// The payload is opaque to the transport. EncodeObjects and Record.Objects
// provide the conventional layout of length-prefixed sub-objects:
//
//	[len(4)][object][len(4)][object]...
//
// # Ownership
//
// Decode never copies: the returned Record borrows the input slice. Records
// built by a RecordCodec, Clone or FromWords own their buffer.
//
//	c := codec.NewRecordCodec().WithRoute(1, 2)
//	rec, err := c.Encode(codec.TypeEvent, payload)
//	if err != nil {
//	    return err
//	}
//	conn.Send(rec)
package codec
