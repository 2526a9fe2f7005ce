package etch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// magic identifies an Etch bytecode file, written first per spec §6.1.
var magic = [4]byte{'E', 'T', 'C', 'H'}

// ErrBadMagic and ErrVersionMismatch are LoadError-level causes (spec
// §7 "Load-time": bytecode version mismatch, corrupted program).
var (
	ErrBadMagic        = errors.New("etch: not an etch bytecode file")
	ErrVersionMismatch = errors.New("etch: bytecode version mismatch")
)

// EncodeProgram serializes p into the wire format spec §6.1 describes:
// magic+versions, instruction stream, constant pool, function table,
// type registry, debug map, lifetime map, entry PC — in that order.
// Field widths follow the teacher's encodeU16/AppendUint16 idiom from
// vm_encoder.go, generalized to every Program section.
func EncodeProgram(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU32(&buf, p.BytecodeVersion)
	writeU32(&buf, p.ASTVersion)

	writeInstrs(&buf, p.Code)
	if err := writeConstants(&buf, p.Constants); err != nil {
		return nil, err
	}
	writeFunctions(&buf, p.Functions)
	writeTypes(&buf, p.Types)
	writeDebugMap(&buf, p.DebugMap)
	writeLifetimes(&buf, p.Lifetimes)
	writeU32(&buf, uint32(p.Entry))

	return buf.Bytes(), nil
}

// DecodeProgram parses a byte stream previously produced by
// EncodeProgram, rejecting anything whose magic or version does not
// match the current build (spec §3.3 "loaders accept only the current
// version").
func DecodeProgram(data []byte) (*Program, error) {
	r := bytes.NewReader(data)
	var m [4]byte
	if _, err := r.Read(m[:]); err != nil || m != magic {
		return nil, ErrBadMagic
	}
	bcVer, err := readU32(r)
	if err != nil {
		return nil, err
	}
	astVer, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if bcVer != CurrentBytecodeVersion || astVer != CurrentASTVersion {
		return nil, fmt.Errorf("%w: got bytecode=%d ast=%d, want bytecode=%d ast=%d",
			ErrVersionMismatch, bcVer, astVer, CurrentBytecodeVersion, CurrentASTVersion)
	}

	p := NewProgram()
	p.BytecodeVersion = bcVer
	p.ASTVersion = astVer

	if p.Code, err = readInstrs(r); err != nil {
		return nil, err
	}
	if p.Constants, err = readConstants(r); err != nil {
		return nil, err
	}
	if p.Functions, err = readFunctions(r); err != nil {
		return nil, err
	}
	for i, f := range p.Functions {
		p.FuncIndex[f.Name] = i
	}
	if p.Types, err = readTypes(r); err != nil {
		return nil, err
	}
	if p.DebugMap, err = readDebugMap(r); err != nil {
		return nil, err
	}
	if p.Lifetimes, err = readLifetimes(r); err != nil {
		return nil, err
	}
	entry, err := readU32(r)
	if err != nil {
		return nil, err
	}
	p.Entry = int(entry)
	return p, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("etch: corrupted program (%w)", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", fmt.Errorf("etch: corrupted program (%w)", err)
	}
	return string(b), nil
}

func writeInstrs(buf *bytes.Buffer, code []Instr) {
	writeU32(buf, uint32(len(code)))
	for _, in := range code {
		buf.WriteByte(byte(in.Op))
		buf.WriteByte(byte(in.Format))
		buf.WriteByte(in.A)
		buf.WriteByte(in.B)
		buf.WriteByte(in.C)
		var wide [8]byte
		binary.LittleEndian.PutUint16(wide[0:2], in.Bx)
		binary.LittleEndian.PutUint32(wide[2:6], uint32(in.SBx))
		binary.LittleEndian.PutUint16(wide[6:8], in.FuncIdx)
		buf.Write(wide[:])
		buf.WriteByte(in.NumArgs)
		buf.WriteByte(in.NumResults)
		buf.WriteByte(byte(in.NumKind))
		buf.WriteByte(byte(in.CmpOp))
		buf.WriteByte(in.CastKind)
		buf.WriteByte(byte(in.Imm))
		writeU32(buf, uint32(in.Line))
	}
}

func readInstrs(r *bytes.Reader) ([]Instr, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]Instr, n)
	for i := range out {
		var hdr [5]byte
		if _, err := r.Read(hdr[:]); err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		var wide [8]byte
		if _, err := r.Read(wide[:]); err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		var tail [6]byte
		if _, err := r.Read(tail[:]); err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = Instr{
			Op:         Opcode(hdr[0]),
			Format:     Format(hdr[1]),
			A:          hdr[2],
			B:          hdr[3],
			C:          hdr[4],
			Bx:         binary.LittleEndian.Uint16(wide[0:2]),
			SBx:        int32(binary.LittleEndian.Uint32(wide[2:6])),
			FuncIdx:    binary.LittleEndian.Uint16(wide[6:8]),
			NumArgs:    tail[0],
			NumResults: tail[1],
			NumKind:    NumKind(tail[2]),
			CmpOp:      CmpOp(tail[3]),
			CastKind:   tail[4],
			Imm:        int8(tail[5]),
			Line:       int32(line),
		}
	}
	return out, nil
}

func writeConstants(buf *bytes.Buffer, consts []Value) error {
	writeU32(buf, uint32(len(consts)))
	for _, v := range consts {
		if v.IsHeapHandle() {
			return fmt.Errorf("etch: heap handles cannot be pooled as constants (kind %s)", v.Kind)
		}
		buf.WriteByte(byte(v.Kind))
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(v.I))
		buf.Write(n[:])
		var f [8]byte
		binary.LittleEndian.PutUint64(f[:], math.Float64bits(v.F))
		buf.Write(f[:])
		writeString(buf, v.S)
		writeU32(buf, uint32(v.TypeID))
	}
	return nil
}

func readConstants(r *bytes.Reader) ([]Value, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]Value, n)
	for i := range out {
		kb, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		var ib, fb [8]byte
		if _, err := r.Read(ib[:]); err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		if _, err := r.Read(fb[:]); err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		typeID, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = Value{
			Kind:   Kind(kb),
			I:      int64(binary.LittleEndian.Uint64(ib[:])),
			F:      math.Float64frombits(binary.LittleEndian.Uint64(fb[:])),
			S:      s,
			TypeID: int32(typeID),
		}
	}
	return out, nil
}

func writeTypeRef(buf *bytes.Buffer, t TypeRef) {
	writeString(buf, t.Name)
	writeU32(buf, uint32(t.ID))
}

func readTypeRef(r *bytes.Reader) (TypeRef, error) {
	name, err := readString(r)
	if err != nil {
		return TypeRef{}, err
	}
	id, err := readU32(r)
	if err != nil {
		return TypeRef{}, err
	}
	return TypeRef{Name: name, ID: int32(id)}, nil
}

func writeFunctions(buf *bytes.Buffer, fns []FuncDesc) {
	writeU32(buf, uint32(len(fns)))
	for _, f := range fns {
		writeString(buf, f.Name)
		buf.WriteByte(byte(f.Kind))
		writeU32(buf, uint32(len(f.Params)))
		for _, p := range f.Params {
			writeTypeRef(buf, p)
		}
		writeTypeRef(buf, f.Return)
		writeU32(buf, uint32(f.EntryPC))
		writeU32(buf, uint32(f.EndPC))
		writeU32(buf, uint32(f.MaxReg))
		writeString(buf, f.Library)
		writeString(buf, f.Symbol)
		if f.UsesPropagation {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeTypeRef(buf, f.PropagationType)
	}
}

func readFunctions(r *bytes.Reader) ([]FuncDesc, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]FuncDesc, n)
	for i := range out {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		kb, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		np, err := readU32(r)
		if err != nil {
			return nil, err
		}
		params := make([]TypeRef, np)
		for j := range params {
			if params[j], err = readTypeRef(r); err != nil {
				return nil, err
			}
		}
		ret, err := readTypeRef(r)
		if err != nil {
			return nil, err
		}
		entry, err := readU32(r)
		if err != nil {
			return nil, err
		}
		end, err := readU32(r)
		if err != nil {
			return nil, err
		}
		maxReg, err := readU32(r)
		if err != nil {
			return nil, err
		}
		lib, err := readString(r)
		if err != nil {
			return nil, err
		}
		sym, err := readString(r)
		if err != nil {
			return nil, err
		}
		usesProp, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		propType, err := readTypeRef(r)
		if err != nil {
			return nil, err
		}
		out[i] = FuncDesc{
			Name: name, Kind: FuncKind(kb), Params: params, Return: ret,
			EntryPC: int(entry), EndPC: int(end), MaxReg: int(maxReg),
			Library: lib, Symbol: sym,
			UsesPropagation: usesProp != 0, PropagationType: propType,
		}
	}
	return out, nil
}

func writeTypes(buf *bytes.Buffer, types []TypeDecl) {
	writeU32(buf, uint32(len(types)))
	for _, t := range types {
		writeString(buf, t.Name)
		writeU32(buf, uint32(t.ID))
		buf.WriteByte(byte(t.Kind))
		writeU32(buf, uint32(len(t.Fields)))
		for _, f := range t.Fields {
			writeString(buf, f.Name)
			writeTypeRef(buf, f.Type)
		}
		writeU32(buf, uint32(len(t.EnumValues)))
		for _, v := range t.EnumValues {
			writeString(buf, v)
		}
		writeTypeRef(buf, t.Underlying)
	}
}

func readTypes(r *bytes.Reader) ([]TypeDecl, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]TypeDecl, n)
	for i := range out {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		kb, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("etch: corrupted program (%w)", err)
		}
		nf, err := readU32(r)
		if err != nil {
			return nil, err
		}
		var fields []FieldDecl
		if nf > 0 {
			fields = make([]FieldDecl, nf)
		}
		for j := range fields {
			fn, err := readString(r)
			if err != nil {
				return nil, err
			}
			ft, err := readTypeRef(r)
			if err != nil {
				return nil, err
			}
			fields[j] = FieldDecl{Name: fn, Type: ft}
		}
		ne, err := readU32(r)
		if err != nil {
			return nil, err
		}
		var enumVals []string
		if ne > 0 {
			enumVals = make([]string, ne)
		}
		for j := range enumVals {
			if enumVals[j], err = readString(r); err != nil {
				return nil, err
			}
		}
		underlying, err := readTypeRef(r)
		if err != nil {
			return nil, err
		}
		out[i] = TypeDecl{
			Name: name, ID: int32(id), Kind: TypeDeclKind(kb),
			Fields: fields, EnumValues: enumVals, Underlying: underlying,
		}
	}
	return out, nil
}

func writeDebugMap(buf *bytes.Buffer, dm []DebugEntry) {
	writeU32(buf, uint32(len(dm)))
	for _, e := range dm {
		writeU32(buf, uint32(e.PC))
		writeString(buf, e.File)
		writeU32(buf, uint32(e.Line))
		writeU32(buf, uint32(e.Column))
	}
}

func readDebugMap(r *bytes.Reader) ([]DebugEntry, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]DebugEntry, n)
	for i := range out {
		pc, err := readU32(r)
		if err != nil {
			return nil, err
		}
		file, err := readString(r)
		if err != nil {
			return nil, err
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		col, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = DebugEntry{PC: int(pc), File: file, Line: int(line), Column: int(col)}
	}
	return out, nil
}

func writeLifetimes(buf *bytes.Buffer, lt map[string][]LifetimeRecord) {
	writeU32(buf, uint32(len(lt)))
	for fn, recs := range lt {
		writeString(buf, fn)
		writeU32(buf, uint32(len(recs)))
		for _, rec := range recs {
			writeString(buf, rec.Variable)
			writeU32(buf, uint32(rec.Register))
			writeU32(buf, uint32(rec.StartPC))
			writeU32(buf, uint32(rec.EndPC))
			writeU32(buf, uint32(rec.DefPC))
		}
	}
}

func readLifetimes(r *bytes.Reader) (map[string][]LifetimeRecord, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]LifetimeRecord, n)
	for i := uint32(0); i < n; i++ {
		fn, err := readString(r)
		if err != nil {
			return nil, err
		}
		nr, err := readU32(r)
		if err != nil {
			return nil, err
		}
		recs := make([]LifetimeRecord, nr)
		for j := range recs {
			v, err := readString(r)
			if err != nil {
				return nil, err
			}
			reg, err := readU32(r)
			if err != nil {
				return nil, err
			}
			start, err := readU32(r)
			if err != nil {
				return nil, err
			}
			end, err := readU32(r)
			if err != nil {
				return nil, err
			}
			def, err := readU32(r)
			if err != nil {
				return nil, err
			}
			recs[j] = LifetimeRecord{
				Variable: v, Register: int(reg), StartPC: int(start),
				EndPC: int(end), DefPC: int(def),
			}
		}
		out[fn] = recs
	}
	return out, nil
}
