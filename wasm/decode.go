package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// WebAssembly binary magic number and version.
const (
	Magic   uint32 = 0x6D736100 // "\0asm"
	Version uint32 = 0x01
)

// Section IDs.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a core WebAssembly binary module. Sections the
// backend has no use for (element, data, custom) are skipped, not
// rejected.
func ParseModule(data []byte) (*Module, error) {
	r := bytes.NewReader(data)

	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if u32le(header[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if u32le(header[4:8]) != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("section header: %w", err)
		}

		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("section data: %w", err)
		}
		sr := bytes.NewReader(body)

		switch sectionID {
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(body, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			var idx uint32
			idx, err = ReadLEB128u(sr)
			m.Start = &idx
		case SectionCode:
			err = parseCodeSection(sr, m)
		default:
			// custom, element, data: not needed for compilation
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sectionID, err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function section declares %d functions, code section has %d bodies",
			len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func parseTypeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("type %d: unsupported form 0x%02x", i, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *bytes.Reader) ([]ValType, error) {
	count, err := ReadLEB128u(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[i] = ValType(b)
	}
	return types, nil
}

func readLimits(r *bytes.Reader) (Limits, bool, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, false, err
	}
	var l Limits
	l.Min, err = ReadLEB128u(r)
	if err != nil {
		return Limits{}, false, err
	}
	if flags&0x01 != 0 {
		l.HasMax = true
		l.Max, err = ReadLEB128u(r)
		if err != nil {
			return Limits{}, false, err
		}
	}
	shared := flags&0x02 != 0
	return l, shared, nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func parseImportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = readName(r); err != nil {
			return err
		}
		if imp.Name, err = readName(r); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = ReadLEB128u(r)
		case KindTable:
			imp.Table.Elem, err = r.ReadByte()
			if err != nil {
				return err
			}
			imp.Table.Limits, _, err = readLimits(r)
		case KindMemory:
			imp.Memory.Limits, imp.Memory.Shared, err = readLimits(r)
		case KindGlobal:
			var t byte
			if t, err = r.ReadByte(); err != nil {
				return err
			}
			var mut byte
			if mut, err = r.ReadByte(); err != nil {
				return err
			}
			_ = t
			_ = mut
		default:
			return fmt.Errorf("import %d: unknown kind %d", i, imp.Kind)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = ReadLEB128u(r); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var t TableType
		if t.Elem, err = r.ReadByte(); err != nil {
			return err
		}
		if t.Limits, _, err = readLimits(r); err != nil {
			return err
		}
		m.Tables = append(m.Tables, t)
	}
	return nil
}

func parseMemorySection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var mt MemoryType
		if mt.Limits, mt.Shared, err = readLimits(r); err != nil {
			return err
		}
		m.Memories = append(m.Memories, mt)
	}
	return nil
}

func parseGlobalSection(data []byte, m *Module) error {
	r := bytes.NewReader(data)
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var g Global
		t, err := r.ReadByte()
		if err != nil {
			return err
		}
		g.Type = ValType(t)
		mut, err := r.ReadByte()
		if err != nil {
			return err
		}
		g.Mutable = mut == 1
		// Init expression: decode operators up to the terminating end so
		// immediate bytes that happen to equal 0x0B are not mistaken for it.
		start := len(data) - r.Len()
		for {
			op, err := decodeOperator(r)
			if err != nil {
				return err
			}
			if op.Opcode == OpEnd {
				break
			}
		}
		g.Init = data[start : len(data)-r.Len()]
		m.Globals = append(m.Globals, g)
	}
	return nil
}

func parseExportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var e Export
		if e.Name, err = readName(r); err != nil {
			return err
		}
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Index, err = ReadLEB128u(r); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
	}
	return nil
}

func parseCodeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		br := bytes.NewReader(body)

		declCount, err := ReadLEB128u(br)
		if err != nil {
			return err
		}
		var fb FuncBody
		for j := uint32(0); j < declCount; j++ {
			n, err := ReadLEB128u(br)
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			for k := uint32(0); k < n; k++ {
				fb.Locals = append(fb.Locals, ValType(t))
			}
		}
		fb.Expr = body[len(body)-br.Len():]
		m.Code = append(m.Code, fb)
	}
	return nil
}
