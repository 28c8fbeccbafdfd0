package bpf

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/asm"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
)

const (
	xdpDrop = 1
	xdpPass = 2

	bpfAny     = 0
	bpfNoExist = 1
	eexist     = 17
)

// Stack slots, relative to the frame pointer.
const (
	stackKey   = -4  // u32 source address, network order
	stackFlag  = -8  // u8 edge flag
	stackStat  = -16 // u32 stats index
	stackState = -32 // 16 byte rate state
)

// Register plan:
//
//	R6 ctx
//	R7 source address
//	R8 pointer to the source's rate state
//	R9 bpf_ktime_get_ns at classification
const (
	rCtx   = asm.R6
	rSrc   = asm.R7
	rState = asm.R8
	rNow   = asm.R9
)

// builder emits straight-line instructions with symbolic jump targets.
type builder struct {
	insns   asm.Instructions
	pending string
	n       int
}

func (b *builder) emit(insns ...asm.Instruction) {
	for _, ins := range insns {
		if b.pending != "" {
			ins = ins.WithSymbol(b.pending)
			b.pending = ""
		}
		b.insns = append(b.insns, ins)
	}
}

// label names the next emitted instruction. An instruction carries one
// symbol, so back to back labels are separated by a jump to the next
// instruction.
func (b *builder) label(sym string) {
	if b.pending != "" {
		b.emit(asm.Ja.Label(sym))
	}

	b.pending = sym
}

func (b *builder) sym(prefix string) string {
	b.n++
	return fmt.Sprintf("%s_%d", prefix, b.n)
}

func (b *builder) mapPtr(dst asm.Register, name string) {
	b.emit(asm.LoadMapPtr(dst, 0).WithReference(name))
}

// stackArg points dst at a stack slot.
func (b *builder) stackArg(dst asm.Register, off int32) {
	b.emit(
		asm.Mov.Reg(dst, asm.RFP),
		asm.Add.Imm(dst, off),
	)
}

// lookup calls bpf_map_lookup_elem(name, &key); R0 holds the result.
func (b *builder) lookup(name string) {
	b.mapPtr(asm.R1, name)
	b.stackArg(asm.R2, stackKey)
	b.emit(asm.FnMapLookupElem.Call())
}

// count increments this CPU's slot of a stats counter.
func (b *builder) count(s stat) {
	skip := b.sym("count_skip")

	b.emit(asm.StoreImm(asm.RFP, stackStat, int64(s), asm.Word))
	b.mapPtr(asm.R1, mapStats)
	b.stackArg(asm.R2, stackStat)
	b.emit(
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, skip),
		asm.LoadMem(asm.R1, asm.R0, 0, asm.DWord),
		asm.Add.Imm(asm.R1, 1),
		asm.StoreMem(asm.R0, 0, asm.R1, asm.DWord),
	)
	b.label(skip)
}

// report writes an events.Event record for rSrc at rNow. A full ring
// buffer discards the record and bumps statEventsLost.
func (b *builder) report(kind events.Kind) {
	fill := b.sym("report_fill")
	done := b.sym("report_done")

	b.mapPtr(asm.R1, mapEvents)
	b.emit(
		asm.Mov.Imm(asm.R2, events.RecordSize),
		asm.Mov.Imm(asm.R3, 0),
		asm.FnRingbufReserve.Call(),
		asm.JNE.Imm(asm.R0, 0, fill),
	)
	b.count(statEventsLost)
	b.emit(asm.Ja.Label(done))

	b.label(fill)
	b.emit(
		asm.StoreImm(asm.R0, 0, int64(kind), asm.Byte),
		asm.StoreMem(asm.R0, 1, rSrc, asm.Word),
		asm.StoreMem(asm.R0, 5, rNow, asm.DWord),
		asm.StoreImm(asm.R0, 13, 1, asm.Word),
		asm.Mov.Reg(asm.R1, asm.R0),
		asm.Mov.Imm(asm.R2, 0),
		asm.FnRingbufSubmit.Call(),
	)
	b.label(done)
}

func (b *builder) verdict(s stat, action int32) {
	b.count(s)
	b.emit(
		asm.Mov.Imm(asm.R0, action),
		asm.Return(),
	)
}

// buildProgram assembles the XDP classifier. Its behaviour matches
// classifier.Classifier.ClassifyAt in relaxed mode, with the edge flag kept
// in its own map.
func buildProgram(p ratelimit.Params) (asm.Instructions, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	full := p.Full()
	fullNS := p.FullRefillNanos()

	// The ethertype is compared as loaded, without a byte swap.
	var et [2]byte
	binary.BigEndian.PutUint16(et[:], packet.EtherTypeIPv4)
	etherTypeIPv4 := int32(binary.NativeEndian.Uint16(et[:]))

	b := &builder{}

	b.emit(
		asm.Mov.Reg(rCtx, asm.R1),
		asm.LoadMem(asm.R2, rCtx, 0, asm.Word), // data
		asm.LoadMem(asm.R3, rCtx, 4, asm.Word), // data_end
		asm.Mov.Reg(asm.R4, asm.R2),
		asm.Add.Imm(asm.R4, packet.MinFrameLen),
		asm.JGT.Reg(asm.R4, asm.R3, "unparsed"),
		asm.LoadMem(asm.R4, asm.R2, packet.EtherTypeOffset, asm.Half),
		asm.JNE.Imm(asm.R4, etherTypeIPv4, "unparsed"),
		asm.LoadMem(rSrc, asm.R2, packet.SourceOffset, asm.Word),
		asm.StoreMem(asm.RFP, stackKey, rSrc, asm.Word),
		asm.FnKtimeGetNs.Call(),
		asm.Mov.Reg(rNow, asm.R0),
	)

	b.lookup(mapBlocklist)
	b.emit(asm.JEq.Imm(asm.R0, 0, "check_rate"))
	b.report(events.Blocked)
	b.verdict(statBlocked, xdpDrop)

	b.label("check_rate")
	b.lookup(mapRateLimit)
	b.emit(
		asm.JNE.Imm(asm.R0, 0, "refill"),
		// first packet from this source: a full bucket less the token it
		// spends now
		asm.LoadImm(asm.R1, full-ratelimit.Scale, asm.DWord),
		asm.StoreMem(asm.RFP, stackState, asm.R1, asm.DWord),
		asm.StoreMem(asm.RFP, stackState+8, rNow, asm.DWord),
	)
	b.mapPtr(asm.R1, mapRateLimit)
	b.stackArg(asm.R2, stackKey)
	b.stackArg(asm.R3, stackState)
	b.emit(
		asm.Mov.Imm(asm.R4, bpfNoExist),
		asm.FnMapUpdateElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "pass"),
		// another CPU created it first
		asm.JEq.Imm(asm.R0, -eexist, "pass"),
	)
	b.count(statStoreFull)
	b.emit(asm.Ja.Label("pass"))

	b.label("refill")
	b.emit(
		asm.Mov.Reg(rState, asm.R0),
		asm.LoadMem(asm.R1, rState, 0, asm.DWord), // tokens
		asm.LoadMem(asm.R2, rState, 8, asm.DWord), // last refill
		asm.JGE.Reg(asm.R2, rNow, "take"),
		asm.Mov.Reg(asm.R3, rNow),
		asm.Sub.Reg(asm.R3, asm.R2),
		asm.LoadImm(asm.R4, fullNS, asm.DWord),
		asm.JGE.Reg(asm.R3, asm.R4, "full"),
		asm.Mul.Imm(asm.R3, int32(p.RefillRate)),
		asm.Div.Imm(asm.R3, ratelimit.NanosPerUnit),
		asm.Add.Reg(asm.R1, asm.R3),
		asm.LoadImm(asm.R4, full, asm.DWord),
		asm.JLE.Reg(asm.R1, asm.R4, "take"),
	)
	b.label("full")
	b.emit(asm.LoadImm(asm.R1, full, asm.DWord))

	b.label("take")
	b.emit(
		asm.JLT.Imm(asm.R1, ratelimit.Scale, "limited"),
		asm.Sub.Imm(asm.R1, ratelimit.Scale),
		asm.StoreMem(rState, 0, asm.R1, asm.DWord),
		asm.StoreMem(rState, 8, rNow, asm.DWord),
	)
	// clear the edge flag if this source was limited
	b.lookup(mapEdges)
	b.emit(asm.JEq.Imm(asm.R0, 0, "pass"))
	b.mapPtr(asm.R1, mapEdges)
	b.stackArg(asm.R2, stackKey)
	b.emit(
		asm.FnMapDeleteElem.Call(),
		asm.Ja.Label("pass"),
	)

	b.label("limited")
	b.lookup(mapEdges)
	b.emit(
		asm.JNE.Imm(asm.R0, 0, "drop_limited"),
		asm.StoreImm(asm.RFP, stackFlag, 1, asm.Byte),
	)
	b.mapPtr(asm.R1, mapEdges)
	b.stackArg(asm.R2, stackKey)
	b.stackArg(asm.R3, stackFlag)
	b.emit(
		asm.Mov.Imm(asm.R4, bpfAny),
		asm.FnMapUpdateElem.Call(),
	)
	b.report(events.RateLimited)

	b.label("drop_limited")
	b.verdict(statRateLimited, xdpDrop)

	b.label("pass")
	b.verdict(statPassed, xdpPass)

	b.label("unparsed")
	b.verdict(statUnparsed, xdpPass)

	return b.insns, nil
}
