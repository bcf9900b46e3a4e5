// Package wasmtest assembles tiny WASI command modules for tests that need a
// real bundle without running the Go toolchain.
package wasmtest

import (
	"bytes"
	"encoding/binary"
)

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10
	secData     = 11
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// NoStart returns a valid module that exports nothing.
func NoStart() []byte {
	return append([]byte(nil), header...)
}

// Empty returns a module whose _start returns without output.
func Empty() []byte {
	return startOnly([]byte{0x0b})
}

// Trap returns a module whose _start traps immediately.
func Trap() []byte {
	return startOnly([]byte{0x00, 0x0b})
}

// Writer returns a module whose _start writes payload to stdout.
func Writer(payload string) []byte {
	return writer(payload, false)
}

// WriteThenTrap returns a module that writes payload to stdout and then traps.
func WriteThenTrap(payload string) []byte {
	return writer(payload, true)
}

func startOnly(body []byte) []byte {
	var out bytes.Buffer
	out.Write(header)
	out.Write(section(secType, vec(funcType(nil, nil))))
	out.Write(section(secFunction, vec([]byte{0x00})))
	out.Write(section(secExport, vec(export("_start", 0x00, 0))))
	out.Write(section(secCode, vec(codeBody(body))))
	return out.Bytes()
}

func writer(payload string, trap bool) []byte {
	const i32 = 0x7f

	// memory layout: iovec{buf=16, len} at 0, nwritten at 8, payload at 16
	data := make([]byte, 16, 16+len(payload))
	binary.LittleEndian.PutUint32(data[0:], 16)
	binary.LittleEndian.PutUint32(data[4:], uint32(len(payload)))
	data = append(data, payload...)

	pages := (len(data) >> 16) + 1

	body := []byte{
		0x41, 0x01, // i32.const 1 (stdout)
		0x41, 0x00, // i32.const 0 (iovs)
		0x41, 0x01, // i32.const 1 (iovs_len)
		0x41, 0x08, // i32.const 8 (nwritten)
		0x10, 0x00, // call fd_write
		0x1a, // drop
	}
	if trap {
		body = append(body, 0x00)
	}
	body = append(body, 0x0b)

	var out bytes.Buffer
	out.Write(header)
	out.Write(section(secType, vec(
		funcType([]byte{i32, i32, i32, i32}, []byte{i32}),
		funcType(nil, nil),
	)))
	out.Write(section(secImport, vec(
		concat(name("wasi_snapshot_preview1"), name("fd_write"), []byte{0x00, 0x00}),
	)))
	out.Write(section(secFunction, vec([]byte{0x01})))
	out.Write(section(secMemory, vec(concat([]byte{0x00}, uleb(pages)))))
	out.Write(section(secExport, vec(
		export("memory", 0x02, 0),
		export("_start", 0x00, 1),
	)))
	out.Write(section(secCode, vec(codeBody(body))))
	out.Write(section(secData, vec(
		concat([]byte{0x00, 0x41, 0x00, 0x0b}, uleb(len(data)), data),
	)))
	return out.Bytes()
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(len(params))...)
	out = append(out, params...)
	out = append(out, uleb(len(results))...)
	return append(out, results...)
}

func export(n string, kind byte, index int) []byte {
	return concat(name(n), []byte{kind}, uleb(index))
}

// codeBody prefixes instructions with an empty locals vector and the size.
func codeBody(instrs []byte) []byte {
	body := append([]byte{0x00}, instrs...)
	return concat(uleb(len(body)), body)
}

func section(id byte, content []byte) []byte {
	return concat([]byte{id}, uleb(len(content)), content)
}

func vec(items ...[]byte) []byte {
	return concat(append([][]byte{uleb(len(items))}, items...)...)
}

func name(s string) []byte {
	return concat(uleb(len(s)), []byte(s))
}

func uleb(n int) []byte {
	var out []byte
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
