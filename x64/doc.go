// Package x64 provides the x86-64 register model and the binary
// instruction assembler the singlepass compiler drives.
//
// The assembler is an append-only byte buffer with one method per
// instruction form the compiler emits. Offsets are final at emission
// time: Offset reports where the next instruction will land, which lets
// the compiler key its exception table and stack maps on real native
// offsets without a fixup pass. Forward jumps go through Labels and are
// back-patched as 32-bit relative displacements when Finish runs.
package x64
