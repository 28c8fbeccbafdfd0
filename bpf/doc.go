// Package bpf provides an interface for interacting with the kernelspace
// components of xdpguard.
//
// Load builds the XDP classifier and its maps; Guard.Attach hooks the
// program onto a network interface. The program is assembled at runtime
// with cilium/ebpf/asm, so the package carries no compiled object files.
//
// This package is intended as an interface to kernelspace, without
// containing specific business logic: the classification algorithm it
// emits is the one in package classifier, and the map encodings come from
// packages store and events.
package bpf
