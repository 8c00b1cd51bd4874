package wasm

// Core opcode encodings for the operator subset the backend compiles.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11

	OpDrop   byte = 0x1A
	OpSelect byte = 0x1B

	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpLocalTee  byte = 0x22
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24

	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpF32Load    byte = 0x2A
	OpF64Load    byte = 0x2B
	OpI32Load8S  byte = 0x2C
	OpI32Load8U  byte = 0x2D
	OpI32Load16S byte = 0x2E
	OpI32Load16U byte = 0x2F
	OpI64Load8S  byte = 0x30
	OpI64Load8U  byte = 0x31
	OpI64Load16S byte = 0x32
	OpI64Load16U byte = 0x33
	OpI64Load32S byte = 0x34
	OpI64Load32U byte = 0x35

	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpF32Store   byte = 0x38
	OpF64Store   byte = 0x39
	OpI32Store8  byte = 0x3A
	OpI32Store16 byte = 0x3B
	OpI64Store8  byte = 0x3C
	OpI64Store16 byte = 0x3D
	OpI64Store32 byte = 0x3E

	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40

	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44

	OpI32Eqz byte = 0x45
	OpI32Eq  byte = 0x46
	OpI32Ne  byte = 0x47
	OpI32LtS byte = 0x48
	OpI32LtU byte = 0x49
	OpI32GtS byte = 0x4A
	OpI32GtU byte = 0x4B
	OpI32LeS byte = 0x4C
	OpI32LeU byte = 0x4D
	OpI32GeS byte = 0x4E
	OpI32GeU byte = 0x4F

	OpI64Eqz byte = 0x50
	OpI64Eq  byte = 0x51
	OpI64Ne  byte = 0x52
	OpI64LtS byte = 0x53
	OpI64LtU byte = 0x54
	OpI64GtS byte = 0x55
	OpI64GtU byte = 0x56
	OpI64LeS byte = 0x57
	OpI64LeU byte = 0x58
	OpI64GeS byte = 0x59
	OpI64GeU byte = 0x5A

	OpF32Eq byte = 0x5B
	OpF32Ne byte = 0x5C
	OpF32Lt byte = 0x5D
	OpF32Gt byte = 0x5E
	OpF32Le byte = 0x5F
	OpF32Ge byte = 0x60

	OpF64Eq byte = 0x61
	OpF64Ne byte = 0x62
	OpF64Lt byte = 0x63
	OpF64Gt byte = 0x64
	OpF64Le byte = 0x65
	OpF64Ge byte = 0x66

	OpI32Clz    byte = 0x67
	OpI32Ctz    byte = 0x68
	OpI32Popcnt byte = 0x69
	OpI32Add    byte = 0x6A
	OpI32Sub    byte = 0x6B
	OpI32Mul    byte = 0x6C
	OpI32DivS   byte = 0x6D
	OpI32DivU   byte = 0x6E
	OpI32RemS   byte = 0x6F
	OpI32RemU   byte = 0x70
	OpI32And    byte = 0x71
	OpI32Or     byte = 0x72
	OpI32Xor    byte = 0x73
	OpI32Shl    byte = 0x74
	OpI32ShrS   byte = 0x75
	OpI32ShrU   byte = 0x76
	OpI32Rotl   byte = 0x77
	OpI32Rotr   byte = 0x78

	OpI64Clz    byte = 0x79
	OpI64Ctz    byte = 0x7A
	OpI64Popcnt byte = 0x7B
	OpI64Add    byte = 0x7C
	OpI64Sub    byte = 0x7D
	OpI64Mul    byte = 0x7E
	OpI64DivS   byte = 0x7F
	OpI64DivU   byte = 0x80
	OpI64RemS   byte = 0x81
	OpI64RemU   byte = 0x82
	OpI64And    byte = 0x83
	OpI64Or     byte = 0x84
	OpI64Xor    byte = 0x85
	OpI64Shl    byte = 0x86
	OpI64ShrS   byte = 0x87
	OpI64ShrU   byte = 0x88
	OpI64Rotl   byte = 0x89
	OpI64Rotr   byte = 0x8A

	OpF32Abs      byte = 0x8B
	OpF32Neg      byte = 0x8C
	OpF32Ceil     byte = 0x8D
	OpF32Floor    byte = 0x8E
	OpF32Trunc    byte = 0x8F
	OpF32Nearest  byte = 0x90
	OpF32Sqrt     byte = 0x91
	OpF32Add      byte = 0x92
	OpF32Sub      byte = 0x93
	OpF32Mul      byte = 0x94
	OpF32Div      byte = 0x95
	OpF32Min      byte = 0x96
	OpF32Max      byte = 0x97
	OpF32Copysign byte = 0x98

	OpF64Abs      byte = 0x99
	OpF64Neg      byte = 0x9A
	OpF64Ceil     byte = 0x9B
	OpF64Floor    byte = 0x9C
	OpF64Trunc    byte = 0x9D
	OpF64Nearest  byte = 0x9E
	OpF64Sqrt     byte = 0x9F
	OpF64Add      byte = 0xA0
	OpF64Sub      byte = 0xA1
	OpF64Mul      byte = 0xA2
	OpF64Div      byte = 0xA3
	OpF64Min      byte = 0xA4
	OpF64Max      byte = 0xA5
	OpF64Copysign byte = 0xA6

	OpI32WrapI64    byte = 0xA7
	OpI32TruncF32S  byte = 0xA8
	OpI32TruncF32U  byte = 0xA9
	OpI32TruncF64S  byte = 0xAA
	OpI32TruncF64U  byte = 0xAB
	OpI64ExtendI32S byte = 0xAC
	OpI64ExtendI32U byte = 0xAD
	OpI64TruncF32S  byte = 0xAE
	OpI64TruncF32U  byte = 0xAF
	OpI64TruncF64S  byte = 0xB0
	OpI64TruncF64U  byte = 0xB1

	OpF32ConvertI32S byte = 0xB2
	OpF32ConvertI32U byte = 0xB3
	OpF32ConvertI64S byte = 0xB4
	OpF32ConvertI64U byte = 0xB5
	OpF32DemoteF64   byte = 0xB6
	OpF64ConvertI32S byte = 0xB7
	OpF64ConvertI32U byte = 0xB8
	OpF64ConvertI64S byte = 0xB9
	OpF64ConvertI64U byte = 0xBA
	OpF64PromoteF32  byte = 0xBB

	OpI32ReinterpretF32 byte = 0xBC
	OpI64ReinterpretF64 byte = 0xBD
	OpF32ReinterpretI32 byte = 0xBE
	OpF64ReinterpretI64 byte = 0xBF

	OpI32Extend8S  byte = 0xC0
	OpI32Extend16S byte = 0xC1
	OpI64Extend8S  byte = 0xC2
	OpI64Extend16S byte = 0xC3
	OpI64Extend32S byte = 0xC4

	OpPrefixMisc   byte = 0xFC
	OpPrefixAtomic byte = 0xFE
)

// Misc opcodes (0xFC prefix)
const (
	MiscI32TruncSatF32S uint32 = 0x00
	MiscI32TruncSatF32U uint32 = 0x01
	MiscI32TruncSatF64S uint32 = 0x02
	MiscI32TruncSatF64U uint32 = 0x03
	MiscI64TruncSatF32S uint32 = 0x04
	MiscI64TruncSatF32U uint32 = 0x05
	MiscI64TruncSatF64S uint32 = 0x06
	MiscI64TruncSatF64U uint32 = 0x07
)

// Atomic opcodes (0xFE prefix)
const (
	AtomicFence uint32 = 0x03

	AtomicI32Load    uint32 = 0x10
	AtomicI64Load    uint32 = 0x11
	AtomicI32Load8U  uint32 = 0x12
	AtomicI32Load16U uint32 = 0x13
	AtomicI64Load8U  uint32 = 0x14
	AtomicI64Load16U uint32 = 0x15
	AtomicI64Load32U uint32 = 0x16

	AtomicI32Store   uint32 = 0x17
	AtomicI64Store   uint32 = 0x18
	AtomicI32Store8  uint32 = 0x19
	AtomicI32Store16 uint32 = 0x1A
	AtomicI64Store8  uint32 = 0x1B
	AtomicI64Store16 uint32 = 0x1C
	AtomicI64Store32 uint32 = 0x1D

	AtomicI32RmwAdd    uint32 = 0x1E
	AtomicI64RmwAdd    uint32 = 0x1F
	AtomicI32Rmw8AddU  uint32 = 0x20
	AtomicI32Rmw16AddU uint32 = 0x21
	AtomicI64Rmw8AddU  uint32 = 0x22
	AtomicI64Rmw16AddU uint32 = 0x23
	AtomicI64Rmw32AddU uint32 = 0x24

	AtomicI32RmwSub    uint32 = 0x25
	AtomicI64RmwSub    uint32 = 0x26
	AtomicI32Rmw8SubU  uint32 = 0x27
	AtomicI32Rmw16SubU uint32 = 0x28
	AtomicI64Rmw8SubU  uint32 = 0x29
	AtomicI64Rmw16SubU uint32 = 0x2A
	AtomicI64Rmw32SubU uint32 = 0x2B

	AtomicI32RmwAnd    uint32 = 0x2C
	AtomicI64RmwAnd    uint32 = 0x2D
	AtomicI32Rmw8AndU  uint32 = 0x2E
	AtomicI32Rmw16AndU uint32 = 0x2F
	AtomicI64Rmw8AndU  uint32 = 0x30
	AtomicI64Rmw16AndU uint32 = 0x31
	AtomicI64Rmw32AndU uint32 = 0x32

	AtomicI32RmwOr    uint32 = 0x33
	AtomicI64RmwOr    uint32 = 0x34
	AtomicI32Rmw8OrU  uint32 = 0x35
	AtomicI32Rmw16OrU uint32 = 0x36
	AtomicI64Rmw8OrU  uint32 = 0x37
	AtomicI64Rmw16OrU uint32 = 0x38
	AtomicI64Rmw32OrU uint32 = 0x39

	AtomicI32RmwXor    uint32 = 0x3A
	AtomicI64RmwXor    uint32 = 0x3B
	AtomicI32Rmw8XorU  uint32 = 0x3C
	AtomicI32Rmw16XorU uint32 = 0x3D
	AtomicI64Rmw8XorU  uint32 = 0x3E
	AtomicI64Rmw16XorU uint32 = 0x3F
	AtomicI64Rmw32XorU uint32 = 0x40

	AtomicI32RmwXchg    uint32 = 0x41
	AtomicI64RmwXchg    uint32 = 0x42
	AtomicI32Rmw8XchgU  uint32 = 0x43
	AtomicI32Rmw16XchgU uint32 = 0x44
	AtomicI64Rmw8XchgU  uint32 = 0x45
	AtomicI64Rmw16XchgU uint32 = 0x46
	AtomicI64Rmw32XchgU uint32 = 0x47

	AtomicI32RmwCmpxchg    uint32 = 0x48
	AtomicI64RmwCmpxchg    uint32 = 0x49
	AtomicI32Rmw8CmpxchgU  uint32 = 0x4A
	AtomicI32Rmw16CmpxchgU uint32 = 0x4B
	AtomicI64Rmw8CmpxchgU  uint32 = 0x4C
	AtomicI64Rmw16CmpxchgU uint32 = 0x4D
	AtomicI64Rmw32CmpxchgU uint32 = 0x4E
)

// Import/Export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Block type encodings: negative s33 values are value types or void.
const (
	BlockTypeVoid int64 = -64 // 0x40
	BlockTypeI32  int64 = -1  // 0x7F
	BlockTypeI64  int64 = -2  // 0x7E
	BlockTypeF32  int64 = -3  // 0x7D
	BlockTypeF64  int64 = -4  // 0x7C
)
