package progs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeusync/qcserver/internal/core/strtab"
)

// Version is the only progs layout Decode accepts.
const Version = 6

const (
	headerSize    = 15 * 4
	statementSize = 8
	defSize       = 8
	functionSize  = 36
	defSaveGlobal = 1 << 15
)

type header struct {
	Version       int32
	CRC           int32
	OfsStatements int32
	NumStatements int32
	OfsGlobalDefs int32
	NumGlobalDefs int32
	OfsFieldDefs  int32
	NumFieldDefs  int32
	OfsFunctions  int32
	NumFunctions  int32
	OfsStrings    int32
	NumStrings    int32
	OfsGlobals    int32
	NumGlobals    int32
	EntityFields  int32
}

// Decode reads a little-endian version 6 progs image and validates it.
func Decode(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read progs: %w", err)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrBadProgs)
	}

	var h header
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadProgs, err)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}

	section := func(name string, ofs, count int32, size int) ([]byte, error) {
		if ofs < 0 || count < 0 {
			return nil, fmt.Errorf("%w: negative %s section", ErrBadProgs, name)
		}
		end := int64(ofs) + int64(count)*int64(size)
		if end > int64(len(data)) {
			return nil, fmt.Errorf("%w: %s section past end of file", ErrBadProgs, name)
		}
		return data[ofs:end], nil
	}

	raw, err := section("strings", h.OfsStrings, h.NumStrings, 1)
	if err != nil {
		return nil, err
	}
	strings := strtab.New(raw)

	p := &Program{CRC: uint16(h.CRC), Strings: strings}

	if raw, err = section("statements", h.OfsStatements, h.NumStatements, statementSize); err != nil {
		return nil, err
	}
	p.Statements = make([]Statement, h.NumStatements)
	for i := range p.Statements {
		b := raw[i*statementSize:]
		p.Statements[i] = Statement{
			Op: Opcode(binary.LittleEndian.Uint16(b)),
			A:  int16(binary.LittleEndian.Uint16(b[2:])),
			B:  int16(binary.LittleEndian.Uint16(b[4:])),
			C:  int16(binary.LittleEndian.Uint16(b[6:])),
		}
	}

	if raw, err = section("globaldefs", h.OfsGlobalDefs, h.NumGlobalDefs, defSize); err != nil {
		return nil, err
	}
	p.GlobalDefs = NewDefTable(strings, decodeDefs(raw, int(h.NumGlobalDefs)))

	if raw, err = section("fielddefs", h.OfsFieldDefs, h.NumFieldDefs, defSize); err != nil {
		return nil, err
	}
	p.Fields = NewEntityTypeDef(strings, decodeDefs(raw, int(h.NumFieldDefs)), int(h.EntityFields))

	if raw, err = section("functions", h.OfsFunctions, h.NumFunctions, functionSize); err != nil {
		return nil, err
	}
	p.Functions = make([]Function, h.NumFunctions)
	for i := range p.Functions {
		b := raw[i*functionSize:]
		f := &p.Functions[i]
		f.FirstStatement = int32(binary.LittleEndian.Uint32(b))
		f.ParmStart = int32(binary.LittleEndian.Uint32(b[4:]))
		f.Locals = int32(binary.LittleEndian.Uint32(b[8:]))
		// b[12:16] is the profile counter, always zero on disk.
		f.Name = strtab.ID(binary.LittleEndian.Uint32(b[16:]))
		f.File = strtab.ID(binary.LittleEndian.Uint32(b[20:]))
		f.NumParms = int32(binary.LittleEndian.Uint32(b[24:]))
		copy(f.ParmSize[:], b[28:36])
	}

	if raw, err = section("globals", h.OfsGlobals, h.NumGlobals, 4); err != nil {
		return nil, err
	}
	p.Globals = make([]uint32, h.NumGlobals)
	for i := range p.Globals {
		p.Globals[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeDefs(raw []byte, n int) []Def {
	defs := make([]Def, n)
	for i := range defs {
		b := raw[i*defSize:]
		t := binary.LittleEndian.Uint16(b)
		defs[i] = Def{
			Type:   Type(t &^ defSaveGlobal),
			Save:   t&defSaveGlobal != 0,
			Offset: binary.LittleEndian.Uint16(b[2:]),
			Name:   strtab.ID(binary.LittleEndian.Uint32(b[4:])),
		}
	}
	return defs
}

// Encode writes p in the layout Decode reads.
func Encode(w io.Writer, p *Program) error {
	var body bytes.Buffer
	h := header{Version: Version, CRC: int32(p.CRC), EntityFields: int32(p.Fields.AddrCount)}
	le := binary.LittleEndian

	h.OfsStatements, h.NumStatements = int32(headerSize+body.Len()), int32(len(p.Statements))
	for _, s := range p.Statements {
		body.Write(le.AppendUint16(nil, uint16(s.Op)))
		body.Write(le.AppendUint16(nil, uint16(s.A)))
		body.Write(le.AppendUint16(nil, uint16(s.B)))
		body.Write(le.AppendUint16(nil, uint16(s.C)))
	}

	writeDefs := func(defs []Def) {
		for _, d := range defs {
			t := uint16(d.Type)
			if d.Save {
				t |= defSaveGlobal
			}
			body.Write(le.AppendUint16(nil, t))
			body.Write(le.AppendUint16(nil, d.Offset))
			body.Write(le.AppendUint32(nil, uint32(d.Name)))
		}
	}
	h.OfsGlobalDefs, h.NumGlobalDefs = int32(headerSize+body.Len()), int32(p.GlobalDefs.Len())
	writeDefs(p.GlobalDefs.Defs())
	h.OfsFieldDefs, h.NumFieldDefs = int32(headerSize+body.Len()), int32(p.Fields.Len())
	writeDefs(p.Fields.Defs())

	h.OfsFunctions, h.NumFunctions = int32(headerSize+body.Len()), int32(len(p.Functions))
	for _, f := range p.Functions {
		for _, v := range []int32{f.FirstStatement, f.ParmStart, f.Locals, 0, int32(f.Name), int32(f.File), f.NumParms} {
			body.Write(le.AppendUint32(nil, uint32(v)))
		}
		body.Write(f.ParmSize[:])
	}

	h.OfsStrings, h.NumStrings = int32(headerSize+body.Len()), int32(p.Strings.Len())
	body.Write(p.Strings.Bytes())

	h.OfsGlobals, h.NumGlobals = int32(headerSize+body.Len()), int32(len(p.Globals))
	for _, g := range p.Globals {
		body.Write(le.AppendUint32(nil, g))
	}

	if err := binary.Write(w, le, &h); err != nil {
		return fmt.Errorf("write progs header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("write progs body: %w", err)
	}
	return nil
}
