package irq

import "gophercore/kernel/cpu"

// I/O ports and commands of the cascaded 8259 programmable interrupt
// controllers.
const (
	picMasterCmd  = 0x20
	picMasterData = 0x21
	picSlaveCmd   = 0xa0
	picSlaveData  = 0xa1

	picCmdInit    = 0x11 // ICW1: edge triggered, cascade mode, ICW4 follows
	picCmdEOI     = 0x20
	picCmdReadISR = 0x0b // OCW3: read the in-service register
	picMode8086   = 0x01 // ICW4

	// picCascadeLine is the master line the slave controller is wired to.
	picCascadeLine = 2

	// PICLines is the number of interrupt lines served by the two PICs.
	PICLines = 16

	// unusedPort is written to in order to give the PICs time to settle
	// between initialization words.
	unusedPort = 0x80
)

var (
	// The following functions are mocked by tests.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	// picMask caches the interrupt mask registers of both controllers. A
	// set bit masks the corresponding line.
	picMask uint16 = 0xffff
)

func picWrite(port uint16, val uint8) {
	portWriteByteFn(port, val)
	portWriteByteFn(unusedPort, 0)
}

// remapPIC moves the master and slave PIC vectors to the supplied offsets
// so they do not collide with the CPU exception vectors. All lines except
// for the cascade line are masked.
func remapPIC(masterOffset, slaveOffset uint8) {
	picWrite(picMasterCmd, picCmdInit)
	picWrite(picSlaveCmd, picCmdInit)
	picWrite(picMasterData, masterOffset)
	picWrite(picSlaveData, slaveOffset)
	picWrite(picMasterData, 1<<picCascadeLine)
	picWrite(picSlaveData, picCascadeLine)
	picWrite(picMasterData, picMode8086)
	picWrite(picSlaveData, picMode8086)

	picMask = 0xffff &^ (1 << picCascadeLine)
	writePICMask()
}

func writePICMask() {
	portWriteByteFn(picMasterData, uint8(picMask))
	portWriteByteFn(picSlaveData, uint8(picMask>>8))
}

// UnmaskLine enables delivery of interrupts for the specified PIC line.
func UnmaskLine(line uint8) {
	if line >= PICLines {
		return
	}

	picMask &^= 1 << line
	writePICMask()
}

// MaskLine disables delivery of interrupts for the specified PIC line.
func MaskLine(line uint8) {
	if line >= PICLines || line == picCascadeLine {
		return
	}

	picMask |= 1 << line
	writePICMask()
}

// LineMasked returns true if the specified PIC line is masked.
func LineMasked(line uint8) bool {
	return line >= PICLines || picMask&(1<<line) != 0
}

// sendEOI acknowledges the interrupt raised by the specified line.
func sendEOI(line uint8) {
	if line >= 8 {
		portWriteByteFn(picSlaveCmd, picCmdEOI)
	}
	portWriteByteFn(picMasterCmd, picCmdEOI)
}

// picISR returns the combined in-service register of both controllers.
func picISR() uint16 {
	portWriteByteFn(picMasterCmd, picCmdReadISR)
	portWriteByteFn(picSlaveCmd, picCmdReadISR)
	return uint16(portReadByteFn(picSlaveCmd))<<8 | uint16(portReadByteFn(picMasterCmd))
}

// isSpurious returns true if an interrupt received on line 7 or 15 was not
// actually raised by a device.
func isSpurious(line uint8) bool {
	if line != 7 && line != 15 {
		return false
	}
	return picISR()&(1<<line) == 0
}
