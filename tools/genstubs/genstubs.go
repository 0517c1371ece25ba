package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"gophercore/kernel/gate"
)

// pushOrder lists the general purpose registers in the order they are
// pushed by the common entry code so that the resulting stack frame matches
// the layout of gate.Registers.
var pushOrder = []string{
	"AX", "BX", "CX", "DX", "SI", "DI", "BP",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[genstubs] error: %s\n", err.Error())
	os.Exit(1)
}

func genStubs(w io.Writer) {
	fmt.Fprint(w, "// Code generated by genstubs; DO NOT EDIT.\n\n")
	fmt.Fprint(w, "#include \"textflag.h\"\n\n")

	// Common entry code
	fmt.Fprint(w, "// interruptCommon completes the gate.Registers frame started by the\n")
	fmt.Fprint(w, "// CPU and the vector stub, passes it to dispatchInterrupt and resumes\n")
	fmt.Fprint(w, "// execution from the possibly modified frame.\n")
	fmt.Fprint(w, "TEXT interruptCommon<>(SB),NOSPLIT|NOFRAME,$0\n")
	for _, reg := range pushOrder {
		fmt.Fprintf(w, "\tPUSHQ %s\n", reg)
	}
	fmt.Fprint(w, "\tMOVQ SP, AX\n")
	fmt.Fprint(w, "\tSUBQ $16, SP\n")
	fmt.Fprint(w, "\tMOVQ AX, 0(SP)\n")
	fmt.Fprint(w, "\tCALL ·dispatchInterrupt(SB)\n")
	fmt.Fprint(w, "\tADDQ $16, SP\n")
	for i := len(pushOrder) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "\tPOPQ %s\n", pushOrder[i])
	}
	fmt.Fprint(w, "\tADDQ $16, SP // vector and error code\n")
	fmt.Fprint(w, "\tIRETQ\n")

	// Per-vector stubs
	for vector := 0; vector < gate.VectorCount; vector++ {
		fmt.Fprintf(w, "\nTEXT isr%d<>(SB),NOSPLIT|NOFRAME,$0\n", vector)
		if !gate.InterruptNumber(vector).HasErrorCode() {
			fmt.Fprint(w, "\tPUSHQ $0\n")
		}
		fmt.Fprintf(w, "\tPUSHQ $%d\n", vector)
		fmt.Fprint(w, "\tJMP interruptCommon<>(SB)\n")
	}

	// Stub address table
	fmt.Fprint(w, "\n")
	for vector := 0; vector < gate.VectorCount; vector++ {
		fmt.Fprintf(w, "DATA stubTable<>+%d(SB)/8, $isr%d<>(SB)\n", vector*8, vector)
	}
	fmt.Fprintf(w, "GLOBL stubTable<>(SB), RODATA|NOPTR, $%d\n", gate.VectorCount*8)

	fmt.Fprint(w, "\nTEXT ·stubTableAddr(SB),NOSPLIT,$0-8\n")
	fmt.Fprint(w, "\tMOVQ $stubTable<>(SB), AX\n")
	fmt.Fprint(w, "\tMOVQ AX, ret+0(FP)\n")
	fmt.Fprint(w, "\tRET\n")
}

func runTool() error {
	output := flag.String("out", "-", "a file to write the generated stubs or - to output to STDOUT")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "genstubs: generate the amd64 interrupt entry stubs\n\n")
		fmt.Fprint(os.Stderr, "Usage: genstubs [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var buf bytes.Buffer
	genStubs(&buf)

	if *output == "-" {
		_, err := buf.WriteTo(os.Stdout)
		return err
	}

	return os.WriteFile(*output, buf.Bytes(), 0644)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
