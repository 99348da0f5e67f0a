package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"pkt.systems/vtview/schema"
)

// vtr message codecs. Field numbers are part of the protocol contract.

func marshalSessionRef(ref schema.SessionRef) []byte {
	var b []byte
	b = appendStringField(b, 1, string(ref.ID))
	b = appendStringField(b, 2, string(ref.Coordinator))
	return b
}

func unmarshalSessionRef(data []byte) (schema.SessionRef, error) {
	var ref schema.SessionRef
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return ref, err
		}
		switch num {
		case 1:
			v, err := r.string(typ)
			if err != nil {
				return ref, err
			}
			ref.ID = schema.SessionID(v)
		case 2:
			v, err := r.string(typ)
			if err != nil {
				return ref, err
			}
			ref.Coordinator = schema.CoordinatorName(v)
		default:
			if err := r.skip(num, typ); err != nil {
				return ref, err
			}
		}
	}
}

func marshalCell(cell schema.Cell) []byte {
	var b []byte
	b = appendStringField(b, 1, cell.Char)
	b = appendInt32Field(b, 2, cell.FG)
	b = appendInt32Field(b, 3, cell.BG)
	b = appendVarintField(b, 4, uint64(cell.Attrs))
	return b
}

func unmarshalCell(data []byte) (schema.Cell, error) {
	var cell schema.Cell
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return cell, err
		}
		switch num {
		case 1:
			cell.Char, err = r.string(typ)
		case 2:
			cell.FG, err = r.int32(typ)
		case 3:
			cell.BG, err = r.int32(typ)
		case 4:
			var v uint64
			v, err = r.varint(typ)
			cell.Attrs = schema.Attr(uint32(v))
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return cell, err
		}
	}
}

func marshalRow(cells []schema.Cell) []byte {
	var b []byte
	for _, cell := range cells {
		b = appendMessageField(b, 1, marshalCell(cell))
	}
	return b
}

func unmarshalRow(data []byte) ([]schema.Cell, error) {
	cells := make([]schema.Cell, 0, 80)
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return cells, err
		}
		if num != 1 {
			if err := r.skip(num, typ); err != nil {
				return cells, err
			}
			continue
		}
		raw, err := r.bytes(typ)
		if err != nil {
			return cells, err
		}
		cell, err := unmarshalCell(raw)
		if err != nil {
			return cells, err
		}
		cells = append(cells, cell)
	}
}

func cursorStyleToWire(style schema.CursorStyle) int32 {
	switch style {
	case schema.CursorBlock:
		return 1
	case schema.CursorUnderline:
		return 2
	case schema.CursorBar:
		return 3
	default:
		return 0
	}
}

func cursorStyleFromWire(v int32) schema.CursorStyle {
	switch v {
	case 1:
		return schema.CursorBlock
	case 2:
		return schema.CursorUnderline
	case 3:
		return schema.CursorBar
	default:
		return ""
	}
}

func marshalSnapshot(snap *schema.ScreenSnapshot) []byte {
	var b []byte
	b = appendStringField(b, 1, snap.Name)
	b = appendInt32Field(b, 2, int32(snap.Cols))
	b = appendInt32Field(b, 3, int32(snap.Rows))
	b = appendInt32Field(b, 4, int32(snap.CursorX))
	b = appendInt32Field(b, 5, int32(snap.CursorY))
	for _, row := range snap.RowData {
		b = appendMessageField(b, 6, marshalRow(row))
	}
	b = appendOptionalBool(b, 7, snap.CursorVisible)
	b = appendInt32Field(b, 8, cursorStyleToWire(snap.CursorStyle))
	return b
}

func unmarshalSnapshot(data []byte) (*schema.ScreenSnapshot, error) {
	snap := &schema.ScreenSnapshot{}
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return snap, err
		}
		var v int32
		switch num {
		case 1:
			snap.Name, err = r.string(typ)
		case 2:
			v, err = r.int32(typ)
			snap.Cols = int(v)
		case 3:
			v, err = r.int32(typ)
			snap.Rows = int(v)
		case 4:
			v, err = r.int32(typ)
			snap.CursorX = int(v)
		case 5:
			v, err = r.int32(typ)
			snap.CursorY = int(v)
		case 6:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				var row []schema.Cell
				row, err = unmarshalRow(raw)
				snap.RowData = append(snap.RowData, row)
			}
		case 7:
			var visible bool
			visible, err = r.bool(typ)
			snap.CursorVisible = &visible
		case 8:
			v, err = r.int32(typ)
			snap.CursorStyle = cursorStyleFromWire(v)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return snap, err
		}
	}
}

func marshalRowDelta(rd schema.RowDelta) []byte {
	var b []byte
	b = appendInt32Field(b, 1, int32(rd.Row))
	b = appendMessageField(b, 2, marshalRow(rd.Cells))
	return b
}

func unmarshalRowDelta(data []byte) (schema.RowDelta, error) {
	var rd schema.RowDelta
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return rd, err
		}
		switch num {
		case 1:
			var v int32
			v, err = r.int32(typ)
			rd.Row = int(v)
		case 2:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				rd.Cells, err = unmarshalRow(raw)
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return rd, err
		}
	}
}

func marshalDelta(delta *schema.ScreenDelta) []byte {
	var b []byte
	b = appendInt32Field(b, 1, int32(delta.Cols))
	b = appendInt32Field(b, 2, int32(delta.Rows))
	b = appendOptionalInt32(b, 3, delta.CursorX)
	b = appendOptionalInt32(b, 4, delta.CursorY)
	for _, rd := range delta.RowDeltas {
		b = appendMessageField(b, 5, marshalRowDelta(rd))
	}
	b = appendOptionalBool(b, 6, delta.CursorVisible)
	if delta.CursorStyle != nil {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(cursorStyleToWire(*delta.CursorStyle)))
	}
	return b
}

func unmarshalDelta(data []byte) (*schema.ScreenDelta, error) {
	delta := &schema.ScreenDelta{}
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return delta, err
		}
		var v int32
		switch num {
		case 1:
			v, err = r.int32(typ)
			delta.Cols = int(v)
		case 2:
			v, err = r.int32(typ)
			delta.Rows = int(v)
		case 3:
			v, err = r.int32(typ)
			x := int(v)
			delta.CursorX = &x
		case 4:
			v, err = r.int32(typ)
			y := int(v)
			delta.CursorY = &y
		case 5:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				var rd schema.RowDelta
				rd, err = unmarshalRowDelta(raw)
				delta.RowDeltas = append(delta.RowDeltas, rd)
			}
		case 6:
			var visible bool
			visible, err = r.bool(typ)
			delta.CursorVisible = &visible
		case 7:
			v, err = r.int32(typ)
			if style := cursorStyleFromWire(v); style != "" {
				delta.CursorStyle = &style
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return delta, err
		}
	}
}

func marshalScreenUpdate(update *schema.ScreenUpdate) []byte {
	var b []byte
	b = appendVarintField(b, 1, update.FrameID)
	b = appendVarintField(b, 2, update.BaseFrameID)
	b = appendBoolField(b, 3, update.IsKeyframe)
	if update.Snapshot != nil {
		b = appendMessageField(b, 4, marshalSnapshot(update.Snapshot))
	}
	if update.Delta != nil {
		b = appendMessageField(b, 5, marshalDelta(update.Delta))
	}
	return b
}

func unmarshalScreenUpdate(data []byte) (*schema.ScreenUpdate, error) {
	update := &schema.ScreenUpdate{}
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return update, err
		}
		switch num {
		case 1:
			update.FrameID, err = r.varint(typ)
		case 2:
			update.BaseFrameID, err = r.varint(typ)
		case 3:
			update.IsKeyframe, err = r.bool(typ)
		case 4:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				update.Snapshot, err = unmarshalSnapshot(raw)
			}
		case 5:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				update.Delta, err = unmarshalDelta(raw)
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return update, err
		}
	}
}

func marshalSubscribeEvent(ev schema.SubscribeEvent) []byte {
	var b []byte
	switch {
	case ev.ScreenUpdate != nil:
		b = appendMessageField(b, 1, marshalScreenUpdate(ev.ScreenUpdate))
	case ev.RawOutput != nil:
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.RawOutput)
	case ev.SessionExited != nil:
		b = appendMessageField(b, 3, appendInt32Field(nil, 1, ev.SessionExited.ExitCode))
	}
	return b
}

func unmarshalSubscribeEvent(data []byte) (schema.SubscribeEvent, error) {
	var ev schema.SubscribeEvent
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return ev, err
		}
		// A later oneof member replaces an earlier one.
		switch num {
		case 1:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				ev = schema.SubscribeEvent{}
				ev.ScreenUpdate, err = unmarshalScreenUpdate(raw)
			}
		case 2:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				ev = schema.SubscribeEvent{RawOutput: append([]byte{}, raw...)}
			}
		case 3:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				ev = schema.SubscribeEvent{SessionExited: &schema.SessionExited{}}
				err = decodeSessionExited(raw, ev.SessionExited)
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return ev, err
		}
	}
}

func decodeSessionExited(data []byte, out *schema.SessionExited) error {
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return err
		}
		if num == 1 {
			if out.ExitCode, err = r.int32(typ); err != nil {
				return err
			}
			continue
		}
		if err := r.skip(num, typ); err != nil {
			return err
		}
	}
}

func marshalSubscribeRequest(req schema.SubscribeRequest) []byte {
	var b []byte
	b = appendMessageField(b, 1, marshalSessionRef(req.Session))
	b = appendBoolField(b, 2, req.IncludeScreenUpdates)
	b = appendBoolField(b, 3, req.IncludeRawOutput)
	return b
}

func unmarshalSubscribeRequest(data []byte) (schema.SubscribeRequest, error) {
	var req schema.SubscribeRequest
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return req, err
		}
		switch num {
		case 1:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				req.Session, err = unmarshalSessionRef(raw)
			}
		case 2:
			req.IncludeScreenUpdates, err = r.bool(typ)
		case 3:
			req.IncludeRawOutput, err = r.bool(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return req, err
		}
	}
}

// sessionPayload is the shared shape of the input requests: a session ref in
// field 1 followed by request-specific fields.
type sessionPayload struct {
	session schema.SessionRef
	text    string
	data    []byte
	cols    int32
	rows    int32
}

func unmarshalSessionPayload(data []byte, kind string) (sessionPayload, error) {
	var p sessionPayload
	r := fieldReader{b: data}
	for {
		num, typ, ok, err := r.next()
		if err != nil || !ok {
			return p, err
		}
		switch {
		case num == 1:
			var raw []byte
			raw, err = r.bytes(typ)
			if err == nil {
				p.session, err = unmarshalSessionRef(raw)
			}
		case num == 2 && kind == TypeResizeRequest:
			p.cols, err = r.int32(typ)
		case num == 3 && kind == TypeResizeRequest:
			p.rows, err = r.int32(typ)
		case num == 2 && kind == TypeSendBytesRequest:
			var raw []byte
			raw, err = r.bytes(typ)
			p.data = append([]byte{}, raw...)
		case num == 2:
			p.text, err = r.string(typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return p, err
		}
	}
}
