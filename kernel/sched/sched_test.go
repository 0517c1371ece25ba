package sched

import (
	"gophercore/kernel"
	"gophercore/kernel/gate"
	"gophercore/kernel/irq"
	"gophercore/kernel/kconfig"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm"
	"gophercore/kernel/mm/vmm"
	"gophercore/kernel/sync"
	"io"
	"testing"
	"unsafe"
)

const testTrampolineAddr = uintptr(0xfeedf00d)

// fakeSpace returns an address space handle for the supplied top-level
// table frame. vmm.AddressSpace wraps a single frame value.
func fakeSpace(frame mm.Frame) vmm.AddressSpace {
	return *(*vmm.AddressSpace)(unsafe.Pointer(&frame))
}

// cpuState simulates the CPU visible effects of the scheduler. frame plays
// the role of the trap frame of the interrupted context.
type cpuState struct {
	frame        gate.Registers
	handlers     map[gate.InterruptNumber]irq.Handler
	trapVectors  []gate.InterruptNumber
	terminator   irq.TaskTerminator
	timerEnabled bool
	active       []vmm.AddressSpace
	destroyed    []vmm.AddressSpace
	kernelStack  uintptr
	stacks       map[int][]byte
	freedStacks  []int
	stackErr     *kernel.Error
}

func (c *cpuState) tick() {
	c.handlers[TimerVector](&c.frame)
}

func mockKernel(t *testing.T, cfg kconfig.Config) *cpuState {
	c := &cpuState{
		handlers: make(map[gate.InterruptNumber]irq.Handler),
		stacks:   make(map[int][]byte),
	}
	kernelSpace := fakeSpace(mm.Frame(1))

	registerFn = func(vector gate.InterruptNumber, handler irq.Handler) *kernel.Error {
		c.handlers[vector] = handler
		return nil
	}
	registerTrapFn = func(vector gate.InterruptNumber, handler irq.Handler) *kernel.Error {
		c.trapVectors = append(c.trapVectors, vector)
		return registerFn(vector, handler)
	}
	setTerminatorFn = func(fn irq.TaskTerminator) { c.terminator = fn }
	unmaskLineFn = func(line uint8) { c.timerEnabled = line == irq.TimerLine }
	setKernelStackFn = func(top uintptr) { c.kernelStack = top }
	kernelSpaceFn = func() vmm.AddressSpace { return kernelSpace }
	activateFn = func(as vmm.AddressSpace) { c.active = append(c.active, as) }
	destroySpaceFn = func(as vmm.AddressSpace) { c.destroyed = append(c.destroyed, as) }
	allocStackFn = func(slot int, pages uint32) (uintptr, *kernel.Error) {
		if c.stackErr != nil {
			return 0, c.stackErr
		}
		stack := make([]byte, int(pages)*int(mm.PageSize))
		c.stacks[slot] = stack
		return uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack)), nil
	}
	freeStackFn = func(slot int, _ uint32) { c.freedStacks = append(c.freedStacks, slot) }
	maskInterruptsFn = func() sync.IRQState { return true }
	restoreInterruptsFn = func(_ sync.IRQState) {}
	yieldFn = func() { c.handlers[YieldVector](&c.frame) }
	exitTrampolineFn = func() uintptr { return testTrampolineAddr }

	kfmt.SetOutputSink(io.Discard)
	kfmt.SetOutputSink(nil)

	t.Cleanup(func() {
		registerFn = irq.Register
		registerTrapFn = irq.RegisterTrap
		setTerminatorFn = irq.SetTaskTerminator
		unmaskLineFn = irq.UnmaskLine
		setKernelStackFn = gate.SetKernelStack
		kernelSpaceFn = vmm.KernelSpace
		activateFn = vmm.AddressSpace.Activate
		destroySpaceFn = vmm.AddressSpace.Destroy
		allocStackFn = allocKernelStack
		freeStackFn = freeKernelStack
		maskInterruptsFn = sync.MaskInterrupts
		restoreInterruptsFn = sync.RestoreInterrupts
		yieldFn = yieldTrap
		exitTrampolineFn = exitTrampolineAddr
		initialized = false
		kfmt.SetOutputSink(nil)
	})

	// The boot context runs in kernel mode
	c.frame = gate.Registers{
		RIP: 0xb007,
		CS:  uint64(gate.KernelCodeSelector),
		SS:  uint64(gate.KernelDataSelector),
		R14: 0x6060,
	}

	if err := Init(cfg); err != nil {
		t.Fatal(err)
	}

	return c
}

func spawnAt(t *testing.T, entry uintptr, attr Attr) TaskID {
	id, err := SpawnTask(entry, vmm.AddressSpace{}, attr)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestInit(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	if c.handlers[TimerVector] == nil || c.handlers[YieldVector] == nil {
		t.Fatal("expected timer and yield handlers to be registered")
	}

	if len(c.trapVectors) != 1 || c.trapVectors[0] != YieldVector {
		t.Fatalf("expected the yield vector to be registered as a trap; got %v", c.trapVectors)
	}

	if c.terminator == nil || !c.timerEnabled {
		t.Fatal("expected the task terminator to be registered and the timer line to be unmasked")
	}

	if Current() != IdleTask {
		t.Fatalf("expected the idle task to be running; got %d", Current())
	}

	if state, _ := TaskState(IdleTask); state != Running {
		t.Fatalf("expected idle task state to be running; got %s", state)
	}

	t.Run("registration errors", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "vector in use"}

		registerFn = func(_ gate.InterruptNumber, _ irq.Handler) *kernel.Error { return expErr }
		if err := Init(kconfig.Default()); err != expErr {
			t.Fatalf("expected %v; got %v", expErr, err)
		}

		registerFn = func(_ gate.InterruptNumber, _ irq.Handler) *kernel.Error { return nil }
		registerTrapFn = func(_ gate.InterruptNumber, _ irq.Handler) *kernel.Error { return expErr }
		if err := Init(kconfig.Default()); err != expErr {
			t.Fatalf("expected %v; got %v", expErr, err)
		}
	})

	t.Run("config sanitization", func(t *testing.T) {
		mockKernel(t, kconfig.Config{Quantum: 0, StackPages: 0})
		if quantum != 1 || stackPages != kconfig.Default().StackPages {
			t.Fatalf("expected defaults for zero values; got quantum %d, stack pages %d", quantum, stackPages)
		}

		mockKernel(t, kconfig.Config{Quantum: 5, StackPages: 1000})
		if quantum != 5 || stackPages != maxStackPages {
			t.Fatalf("expected stack pages to be clamped; got quantum %d, stack pages %d", quantum, stackPages)
		}
	})
}

func TestSpawn(t *testing.T) {
	t.Run("before init", func(t *testing.T) {
		initialized = false
		if _, err := SpawnTask(0x1000, vmm.AddressSpace{}, Attr{}); err != errNotInitialized {
			t.Fatalf("expected errNotInitialized; got %v", err)
		}
	})

	t.Run("kernel task", func(t *testing.T) {
		c := mockKernel(t, kconfig.Default())

		id := spawnAt(t, 0x1000, Attr{Priority: PriorityHigh})
		if state, err := TaskState(id); err != nil || state != Ready {
			t.Fatalf("expected new task to be ready; got %s, %v", state, err)
		}

		tk := &tasks[id.slot()]
		stack := c.stacks[id.slot()]
		stackTop := uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack))

		if len(stack) != int(kconfig.Default().StackPages)*int(mm.PageSize) {
			t.Fatalf("expected a %d page stack; got %d bytes", kconfig.Default().StackPages, len(stack))
		}

		regs := tk.regs
		if regs.RIP != 0x1000 || regs.RFlags != initialRFlags || regs.FromUserMode() {
			t.Fatalf("unexpected initial registers: %+v", regs)
		}

		if regs.CS != uint64(gate.KernelCodeSelector) || regs.SS != uint64(gate.KernelDataSelector) {
			t.Fatalf("expected kernel selectors; got CS %x, SS %x", regs.CS, regs.SS)
		}

		if regs.RSP != uint64(stackTop-16) {
			t.Fatalf("expected RSP to be 0x%x; got 0x%x", stackTop-16, regs.RSP)
		}

		if retAddr := *(*uintptr)(unsafe.Pointer(uintptr(regs.RSP))); retAddr != testTrampolineAddr {
			t.Fatalf("expected the exit trampoline to be the return address; got 0x%x", retAddr)
		}

		if tk.space != kernelSpaceFn() {
			t.Fatal("expected task with an invalid address space to use the kernel space")
		}
	})

	t.Run("user task", func(t *testing.T) {
		mockKernel(t, kconfig.Default())
		space := fakeSpace(mm.Frame(42))

		id, err := SpawnTask(0x400000, space, Attr{User: true, UserStack: 0x7ffffff000})
		if err != nil {
			t.Fatal(err)
		}

		tk := &tasks[id.slot()]
		regs := tk.regs
		if !regs.FromUserMode() || regs.CS != uint64(gate.UserCodeSelector) || regs.SS != uint64(gate.UserDataSelector) {
			t.Fatalf("expected user selectors; got CS %x, SS %x", regs.CS, regs.SS)
		}

		if regs.RSP != 0x7ffffff000 || regs.RIP != 0x400000 || tk.space != space {
			t.Fatalf("unexpected initial registers: %+v", regs)
		}
	})

	t.Run("go function", func(t *testing.T) {
		mockKernel(t, kconfig.Default())

		id, err := Spawn(func() {}, vmm.AddressSpace{})
		if err != nil {
			t.Fatal(err)
		}

		tk := &tasks[id.slot()]
		if tk.regs.RIP == 0 || tk.regs.RDX == 0 || tk.entry == nil || tk.priority != PriorityNormal {
			t.Fatalf("expected the entry PC and closure to be recorded; got %+v", tk.regs)
		}

		if _, err := Spawn(nil, vmm.AddressSpace{}); err != errInvalidEntry {
			t.Fatalf("expected errInvalidEntry; got %v", err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		c := mockKernel(t, kconfig.Default())

		specs := []struct {
			entry  uintptr
			attr   Attr
			expErr *kernel.Error
		}{
			{0, Attr{}, errInvalidEntry},
			{0x1000, Attr{Priority: priorityLevels}, errInvalidPriority},
			{0x1000, Attr{User: true}, errNoUserStack},
		}

		for specIndex, spec := range specs {
			if _, err := SpawnTask(spec.entry, vmm.AddressSpace{}, spec.attr); err != spec.expErr {
				t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			}
		}

		c.stackErr = &kernel.Error{Module: "test", Message: "out of memory"}
		if _, err := SpawnTask(0x1000, vmm.AddressSpace{}, Attr{}); err != c.stackErr {
			t.Fatalf("expected stack allocation error; got %v", err)
		}
		c.stackErr = nil

		// The failed spawn must not consume a slot
		for i := 1; i < maxTasks; i++ {
			spawnAt(t, 0x1000, Attr{})
		}

		if _, err := SpawnTask(0x1000, vmm.AddressSpace{}, Attr{}); err != errTooManyTasks {
			t.Fatalf("expected errTooManyTasks; got %v", err)
		}
	})
}

func TestRoundRobin(t *testing.T) {
	specs := []struct {
		quantum  uint32
		expOrder []uint64
	}{
		{1, []uint64{0xa, 0xb, 0xc, 0xa, 0xb, 0xc, 0xa}},
		{2, []uint64{0xa, 0xa, 0xb, 0xb, 0xc, 0xc, 0xa}},
	}

	for specIndex, spec := range specs {
		cfg := kconfig.Default()
		cfg.Quantum = spec.quantum
		c := mockKernel(t, cfg)

		for _, entry := range []uintptr{0xa, 0xb, 0xc} {
			spawnAt(t, entry, Attr{Priority: PriorityNormal})
		}

		var order []uint64
		for range spec.expOrder {
			c.tick()

			// Simulate the task making progress
			if c.frame.RIP < 0x100 {
				order = append(order, c.frame.RIP)
				c.frame.RIP += 0x100
			} else {
				order = append(order, c.frame.RIP&0xff)
			}
		}

		for i, exp := range spec.expOrder {
			if order[i] != exp {
				t.Errorf("[spec %d] expected task order %x; got %x", specIndex, spec.expOrder, order)
				break
			}
		}

		if Ticks() != uint64(len(spec.expOrder)) {
			t.Errorf("[spec %d] expected %d ticks; got %d", specIndex, len(spec.expOrder), Ticks())
		}
	}
}

func TestSpawnOrderScenario(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	a := spawnAt(t, 0xa000, Attr{})
	b := spawnAt(t, 0xb000, Attr{})
	cTask := spawnAt(t, 0xc000, Attr{})

	// Spawning does not preempt the idle task before the next tick
	if Current() != IdleTask || c.frame.RIP != 0xb007 {
		t.Fatal("expected the idle task to keep running until the next tick")
	}

	for round := 0; round < 3; round++ {
		for _, exp := range []TaskID{a, b, cTask} {
			c.tick()
			if Current() != exp {
				t.Fatalf("[round %d] expected task %x to run; got %x", round, exp, Current())
			}
		}
	}

	// Every task exits; the idle task resumes with the boot context.
	for i := 0; i < 3; i++ {
		Exit()
	}

	if Current() != IdleTask || c.frame.RIP != 0xb007 {
		t.Fatalf("expected idle task to resume at 0xb007; got task %x at 0x%x", Current(), c.frame.RIP)
	}

	if got := Reap(); got != 3 {
		t.Fatalf("expected 3 tasks to be reaped; got %d", got)
	}

	for _, id := range []TaskID{a, b, cTask} {
		if _, err := TaskState(id); err != errNoSuchTask {
			t.Errorf("expected task %x to be gone; got %v", id, err)
		}
	}
}

func TestPriorities(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	low := spawnAt(t, 0x1000, Attr{Priority: PriorityLow})
	c.tick()
	if Current() != low {
		t.Fatal("expected the low priority task to run")
	}

	high := spawnAt(t, 0x2000, Attr{Priority: PriorityHigh})
	normal := spawnAt(t, 0x3000, Attr{Priority: PriorityNormal})

	// The high priority task preempts the low priority one and keeps the
	// CPU while it is ready.
	for i := 0; i < 5; i++ {
		c.tick()
		if Current() != high {
			t.Fatalf("[tick %d] expected high priority task to run; got %x", i, Current())
		}
	}

	Block(1)
	if Current() != normal {
		t.Fatalf("expected normal priority task to run after the high priority one blocked; got %x", Current())
	}

	if err := Unblock(high); err != nil {
		t.Fatal(err)
	}

	c.tick()
	if Current() != high {
		t.Fatalf("expected the unblocked high priority task to preempt; got %x", Current())
	}
}

func TestIdleSafety(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	for i := 0; i < 10; i++ {
		c.tick()
		Yield()
	}

	if Current() != IdleTask || c.frame.RIP != 0xb007 {
		t.Fatal("expected the idle task to keep running when nothing is ready")
	}

	if err := Kill(IdleTask); err != errKillIdle {
		t.Fatalf("expected errKillIdle; got %v", err)
	}

	for _, spec := range []struct {
		descr  string
		fn     func()
		expErr *kernel.Error
	}{
		{"block", func() { Block(0) }, errBlockIdle},
		{"exit", Exit, errExitIdle},
	} {
		t.Run(spec.descr, func(t *testing.T) {
			defer func() {
				if err := recover(); err != spec.expErr {
					t.Fatalf("expected panic with %v; got %v", spec.expErr, err)
				}
			}()
			spec.fn()
		})
	}

	if c.terminator(&c.frame, &kernel.Error{Module: "test", Message: "fault"}) {
		t.Fatal("expected faults in the idle task not to be handled")
	}
}

func TestBlockUnblock(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	a := spawnAt(t, 0xa000, Attr{})
	b := spawnAt(t, 0xb000, Attr{})
	c.tick()

	Block(42)
	if Current() != b {
		t.Fatalf("expected task b to run; got %x", Current())
	}

	if state, _ := TaskState(a); state != Blocked {
		t.Fatalf("expected task a to be blocked; got %s", state)
	}

	if reason, _ := Reason(a); reason != 42 {
		t.Fatalf("expected wait reason 42; got %d", reason)
	}

	// Task a is skipped while blocked
	for i := 0; i < 3; i++ {
		c.tick()
		if Current() != b {
			t.Fatalf("[tick %d] expected task b to run; got %x", i, Current())
		}
	}

	if err := Unblock(a); err != nil {
		t.Fatal(err)
	}

	if reason, _ := Reason(a); reason != 0 {
		t.Fatalf("expected wait reason to be cleared; got %d", reason)
	}

	c.tick()
	if Current() != a || c.frame.RIP != 0xa000 {
		t.Fatalf("expected task a to resume at its saved RIP; got task %x at 0x%x", Current(), c.frame.RIP)
	}

	if err := Unblock(makeTaskID(30, 0)); err != errNoSuchTask {
		t.Fatalf("expected errNoSuchTask; got %v", err)
	}

	t.Run("unblock task that is not blocked", func(t *testing.T) {
		defer func() {
			if err := recover(); err != errNotBlocked {
				t.Fatalf("expected panic with errNotBlocked; got %v", err)
			}
		}()
		_ = Unblock(b)
	})

	t.Run("unblock task killed while blocked", func(t *testing.T) {
		c.tick()
		if Current() != b {
			t.Fatalf("expected task b to run; got %x", Current())
		}
		Block(7)

		if err := Kill(b); err != nil {
			t.Fatal(err)
		}

		if err := Unblock(b); err != errNoSuchTask {
			t.Fatalf("expected errNoSuchTask; got %v", err)
		}
	})
}

func TestKillFromInterruptContext(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	// IRQ handlers run with interrupts masked
	maskInterruptsFn = func() sync.IRQState { return false }

	a := spawnAt(t, 0xa000, Attr{})
	b := spawnAt(t, 0xb000, Attr{})
	c.tick()

	if err := Kill(a); err != nil {
		t.Fatal(err)
	}

	if Current() != a || c.frame.RIP != 0xa000 {
		t.Fatalf("expected the switch to be deferred; got task %x at 0x%x", Current(), c.frame.RIP)
	}

	if state, _ := TaskState(a); state != Terminated {
		t.Fatalf("expected task a to be terminated; got %s", state)
	}

	// A pending kill is not overridden by a block request
	Block(3)
	if state, _ := TaskState(a); state != Terminated {
		t.Fatalf("expected task a to stay terminated after Block; got %s", state)
	}

	if Current() != b {
		t.Fatalf("expected task b to run; got %x", Current())
	}

	for i := 0; i < 3; i++ {
		c.tick()
		if Current() != b {
			t.Fatalf("[tick %d] expected only task b to run; got %x", i, Current())
		}
	}

	if got := Reap(); got != 1 {
		t.Fatalf("expected 1 task to be reaped; got %d", got)
	}

	t.Run("deferred switch at the next tick", func(t *testing.T) {
		if err := Kill(b); err != nil {
			t.Fatal(err)
		}
		if Current() != b {
			t.Fatalf("expected task b to keep the CPU until the next tick; got %x", Current())
		}

		c.tick()
		if Current() != IdleTask {
			t.Fatalf("expected the idle task to run; got %x", Current())
		}

		if got := Reap(); got != 1 {
			t.Fatalf("expected 1 task to be reaped; got %d", got)
		}
	})
}

func TestIdleStateAfterSwitch(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	a := spawnAt(t, 0xa000, Attr{})
	c.tick()

	if state, _ := TaskState(IdleTask); state == Running {
		t.Fatal("expected the idle task not to be running while task a owns the CPU")
	}

	if state, _ := TaskState(a); state != Running {
		t.Fatalf("expected task a to be running; got %s", state)
	}

	if err := Kill(a); err != nil {
		t.Fatal(err)
	}

	if state, _ := TaskState(IdleTask); state != Running {
		t.Fatalf("expected the idle task to be running; got %s", state)
	}

	var running int
	for slot := range tasks {
		if tasks[slot].state == Running {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("expected exactly one running task; got %d", running)
	}
}

func TestKill(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	a := spawnAt(t, 0xa000, Attr{})
	b := spawnAt(t, 0xb000, Attr{})
	cTask := spawnAt(t, 0xc000, Attr{})
	c.tick()

	// Kill a ready task
	if err := Kill(b); err != nil {
		t.Fatal(err)
	}

	// Kill a blocked task
	c.tick()
	if Current() != cTask {
		t.Fatalf("expected task c to run; got %x", Current())
	}
	Block(0)
	if err := Kill(cTask); err != nil {
		t.Fatal(err)
	}

	for _, id := range []TaskID{b, cTask} {
		if state, _ := TaskState(id); state != Terminated {
			t.Fatalf("expected task %x to be terminated; got %s", id, state)
		}
	}

	if err := Kill(b); err != nil {
		t.Fatalf("expected killing a terminated task to succeed; got %v", err)
	}

	for i := 0; i < 3; i++ {
		c.tick()
		if Current() != a {
			t.Fatalf("[tick %d] expected only task a to run; got %x", i, Current())
		}
	}

	// Kill the running task
	if err := Kill(a); err != nil {
		t.Fatal(err)
	}

	if Current() != IdleTask {
		t.Fatalf("expected the idle task to run; got %x", Current())
	}

	if got := Reap(); got != 3 {
		t.Fatalf("expected 3 tasks to be reaped; got %d", got)
	}

	if len(c.freedStacks) != 3 {
		t.Fatalf("expected 3 kernel stacks to be released; got %v", c.freedStacks)
	}

	if err := Kill(a); err != errNoSuchTask {
		t.Fatalf("expected errNoSuchTask; got %v", err)
	}
}

func TestFaultTermination(t *testing.T) {
	c := mockKernel(t, kconfig.Default())

	a := spawnAt(t, 0xa000, Attr{})
	b := spawnAt(t, 0xb000, Attr{})
	c.tick()

	if !c.terminator(&c.frame, &kernel.Error{Module: "test", Message: "page fault"}) {
		t.Fatal("expected the fault to be handled by terminating the task")
	}

	if state, _ := TaskState(a); state != Terminated {
		t.Fatalf("expected faulting task to be terminated; got %s", state)
	}

	if Current() != b || c.frame.RIP != 0xb000 {
		t.Fatalf("expected task b to be resumed; got task %x at 0x%x", Current(), c.frame.RIP)
	}
}

func TestReap(t *testing.T) {
	c := mockKernel(t, kconfig.Default())
	space := fakeSpace(mm.Frame(7))

	a, err := SpawnTask(0xa000, space, Attr{})
	if err != nil {
		t.Fatal(err)
	}
	c.tick()

	// Reap is ignored outside of the idle task
	Exit()
	spawnAt(t, 0xb000, Attr{})
	c.tick()
	if got := Reap(); got != 0 {
		t.Fatalf("expected Reap to be ignored outside the idle task; got %d", got)
	}
	Exit()

	if got := Reap(); got != 2 {
		t.Fatalf("expected 2 tasks to be reaped; got %d", got)
	}

	if len(c.destroyed) != 1 || c.destroyed[0] != space {
		t.Fatalf("expected only the task address space to be destroyed; got %v", c.destroyed)
	}

	// The slot is reused with a new generation
	reused := spawnAt(t, 0xd000, Attr{})
	if reused.slot() != a.slot() || reused == a {
		t.Fatalf("expected slot %d to be reused with a new generation; got id %x", a.slot(), reused)
	}

	if _, err := TaskState(a); err != errNoSuchTask {
		t.Fatalf("expected stale task id to be rejected; got %v", err)
	}
}

func TestContextSwitch(t *testing.T) {
	c := mockKernel(t, kconfig.Default())
	space := fakeSpace(mm.Frame(7))

	a, err := SpawnTask(0xa000, space, Attr{})
	if err != nil {
		t.Fatal(err)
	}
	b := spawnAt(t, 0xb000, Attr{})

	c.tick()
	if Current() != a {
		t.Fatalf("expected task a to run; got %x", Current())
	}

	if len(c.active) != 1 || c.active[0] != space {
		t.Fatalf("expected the task address space to be activated; got %v", c.active)
	}

	if c.kernelStack != tasks[a.slot()].stackTop {
		t.Fatal("expected the TSS kernel stack to point to the task stack")
	}

	if c.frame.R14 != 0x6060 {
		t.Fatalf("expected kernel task to inherit R14 from the kernel context; got 0x%x", c.frame.R14)
	}

	// Save task state and switch to b which uses the kernel space
	c.frame.RAX = 0xaaaa
	c.tick()
	if Current() != b || c.frame.RAX != 0 {
		t.Fatalf("expected task b to run with its own registers; got task %x", Current())
	}

	if len(c.active) != 2 || c.active[1] != kernelSpaceFn() {
		t.Fatalf("expected the kernel space to be activated; got %v", c.active)
	}

	c.tick()
	if Current() != a || c.frame.RAX != 0xaaaa || c.frame.RIP != 0xa000 {
		t.Fatalf("expected task a to resume with its saved registers; got %+v", c.frame)
	}
}

func TestTaskRing(t *testing.T) {
	var ring taskRing

	for slot := 1; slot <= 5; slot++ {
		ring.push(slot)
	}

	if !ring.remove(3) || ring.remove(42) {
		t.Fatal("expected remove to report whether the slot was found")
	}

	var got []int
	for {
		slot, ok := ring.pop()
		if !ok {
			break
		}
		got = append(got, slot)
	}

	exp := []int{1, 2, 4, 5}
	if len(got) != len(exp) {
		t.Fatalf("expected %v; got %v", exp, got)
	}
	for i := range exp {
		if got[i] != exp[i] {
			t.Fatalf("expected %v; got %v", exp, got)
		}
	}

	// wrap around
	for i := 0; i < maxTasks*2; i++ {
		ring.push(i % maxTasks)
		if slot, _ := ring.pop(); slot != i%maxTasks {
			t.Fatalf("expected slot %d; got %d", i%maxTasks, slot)
		}
	}
}

func TestStateString(t *testing.T) {
	specs := []struct {
		state State
		exp   string
	}{
		{stateFree, "free"},
		{Ready, "ready"},
		{Running, "running"},
		{Blocked, "blocked"},
		{Terminated, "terminated"},
	}

	for specIndex, spec := range specs {
		if got := spec.state.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
