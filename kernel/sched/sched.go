// Package sched implements a preemptive priority round-robin scheduler for
// a single CPU. Context switches are performed by the timer and yield
// interrupt handlers by exchanging the register snapshot that the CPU
// restores when the handler returns.
package sched

import (
	"gophercore/kernel"
	"gophercore/kernel/gate"
	"gophercore/kernel/irq"
	"gophercore/kernel/kconfig"
	"gophercore/kernel/kfmt"
	"gophercore/kernel/mm/vmm"
	"gophercore/kernel/sync"
	"unsafe"
)

const (
	// TimerVector is the vector raised by the PIT.
	TimerVector = gate.InterruptNumber(irq.IRQBase + irq.TimerLine)

	// YieldVector is the software trap used by tasks to give up the CPU.
	YieldVector = gate.InterruptNumber(0x81)

	// idleSlot is the task slot of the idle task.
	idleSlot = 0

	// initialRFlags enables interrupts; bit 1 is reserved and always set.
	initialRFlags = 1<<9 | 1<<1
)

// Attr describes the attributes of a task created via SpawnTask.
type Attr struct {
	Priority Priority

	// User selects whether the task runs in user mode. User mode tasks
	// start with their stack pointer set to UserStack which must be
	// mapped in the task address space.
	User      bool
	UserStack uintptr
}

var (
	tasks       [maxTasks]task
	current     int
	readyQueues [priorityLevels]taskRing
	zombies     taskRing
	ticks       uint64
	quantum     uint32 = 1
	stackPages  uint32 = 4
	initialized bool

	// activeSpace is the address space loaded by the last context switch.
	activeSpace vmm.AddressSpace

	// kernelG is the value of R14 observed while running kernel code.
	// Go code expects R14 to point to the current goroutine so kernel
	// tasks inherit it when they run for the first time.
	kernelG uint64

	// The following functions are mocked by tests.
	registerFn          = irq.Register
	registerTrapFn      = irq.RegisterTrap
	setTerminatorFn     = irq.SetTaskTerminator
	unmaskLineFn        = irq.UnmaskLine
	setKernelStackFn    = gate.SetKernelStack
	kernelSpaceFn       = vmm.KernelSpace
	activateFn          = vmm.AddressSpace.Activate
	destroySpaceFn      = vmm.AddressSpace.Destroy
	allocStackFn        = allocKernelStack
	freeStackFn         = freeKernelStack
	maskInterruptsFn    = sync.MaskInterrupts
	restoreInterruptsFn = sync.RestoreInterrupts
	yieldFn             = yieldTrap
	exitTrampolineFn    = exitTrampolineAddr

	errNotInitialized  = &kernel.Error{Module: "sched", Message: "scheduler not initialized"}
	errInvalidEntry    = &kernel.Error{Module: "sched", Message: "invalid task entry point"}
	errInvalidPriority = &kernel.Error{Module: "sched", Message: "invalid task priority"}
	errNoUserStack     = &kernel.Error{Module: "sched", Message: "user mode tasks require a stack"}
	errTooManyTasks    = &kernel.Error{Module: "sched", Message: "no free task slots"}
	errNoSuchTask      = &kernel.Error{Module: "sched", Message: "no such task"}
	errKillIdle        = &kernel.Error{Module: "sched", Message: "the idle task cannot be killed"}
	errBlockIdle       = &kernel.Error{Module: "sched", Message: "the idle task cannot block"}
	errExitIdle        = &kernel.Error{Module: "sched", Message: "the idle task cannot exit"}
	errNotBlocked      = &kernel.Error{Module: "sched", Message: "attempted to unblock a task that is not blocked"}
)

// yieldTrap raises the yield software interrupt. It is implemented in
// sched_amd64.s.
func yieldTrap()

// exitTrampolineAddr returns the address of exitTrampoline. It is
// implemented in sched_amd64.s.
func exitTrampolineAddr() uintptr

// exitTrampoline is used as the return address of kernel task entry
// points.
func exitTrampoline() {
	Exit()
}

// Init turns the boot context into the idle task, installs the timer and
// yield handlers and registers the scheduler as the fault handler for
// task context faults. The idle task runs when no other task is ready; it
// never enters a ready queue and can neither block nor exit.
func Init(cfg kconfig.Config) *kernel.Error {
	for slot := range tasks {
		tasks[slot] = task{}
	}
	for level := range readyQueues {
		readyQueues[level] = taskRing{}
	}
	zombies = taskRing{}
	ticks = 0

	quantum = cfg.Quantum
	if quantum == 0 {
		quantum = 1
	}

	switch stackPages = cfg.StackPages; {
	case stackPages == 0:
		stackPages = kconfig.Default().StackPages
	case stackPages > maxStackPages:
		stackPages = maxStackPages
	}

	current = idleSlot
	activeSpace = kernelSpaceFn()
	tasks[idleSlot] = task{
		state:    Running,
		priority: PriorityLow,
		space:    activeSpace,
		started:  true,
	}

	if err := registerFn(TimerVector, onTimerTick); err != nil {
		return err
	}

	if err := registerTrapFn(YieldVector, onYield); err != nil {
		return err
	}

	setTerminatorFn(terminateFaultingTask)
	unmaskLineFn(irq.TimerLine)
	initialized = true

	kfmt.Printf("[sched] quantum: %d ticks, kernel stack: %d pages, task slots: %d\n", quantum, stackPages, maxTasks)
	return nil
}

// Spawn creates a kernel mode task with normal priority that runs entry
// in the supplied address space. If as is not valid, the task runs in the
// kernel address space. When entry returns, the task exits.
func Spawn(entry func(), as vmm.AddressSpace) (TaskID, *kernel.Error) {
	if entry == nil {
		return 0, errInvalidEntry
	}

	// A func value points to a closure record whose first word is the
	// code pointer. The closure record is passed in DX.
	closure := *(*uintptr)(unsafe.Pointer(&entry))
	pc := *(*uintptr)(unsafe.Pointer(closure))

	id, err := spawn(pc, as, Attr{Priority: PriorityNormal}, entry)
	if err != nil {
		return 0, err
	}

	tasks[id.slot()].regs.RDX = uint64(closure)
	return id, nil
}

// SpawnTask creates a task that starts executing at the entry address.
func SpawnTask(entry uintptr, as vmm.AddressSpace, attr Attr) (TaskID, *kernel.Error) {
	if entry == 0 {
		return 0, errInvalidEntry
	}

	return spawn(entry, as, attr, nil)
}

func spawn(entry uintptr, as vmm.AddressSpace, attr Attr, fn func()) (TaskID, *kernel.Error) {
	switch {
	case !initialized:
		return 0, errNotInitialized
	case attr.Priority >= priorityLevels:
		return 0, errInvalidPriority
	case attr.User && attr.UserStack == 0:
		return 0, errNoUserStack
	}

	if !as.Valid() {
		as = kernelSpaceFn()
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	slot := -1
	for candidate := idleSlot + 1; candidate < maxTasks; candidate++ {
		if tasks[candidate].state == stateFree {
			slot = candidate
			break
		}
	}

	if slot == -1 {
		return 0, errTooManyTasks
	}

	stackTop, err := allocStackFn(slot, stackPages)
	if err != nil {
		return 0, err
	}

	t := &tasks[slot]
	*t = task{
		space:      as,
		state:      Ready,
		priority:   attr.Priority,
		generation: t.generation,
		user:       attr.User,
		stackTop:   stackTop,
		entry:      fn,
	}

	t.regs.RIP = uint64(entry)
	t.regs.RFlags = initialRFlags
	if attr.User {
		t.regs.CS = uint64(gate.UserCodeSelector)
		t.regs.SS = uint64(gate.UserDataSelector)
		t.regs.RSP = uint64(attr.UserStack)
	} else {
		// Set up the stack as if entry was called by exitTrampoline. The
		// zero word is the return address of the trampoline which never
		// returns.
		sp := stackTop - 16
		*(*uintptr)(unsafe.Pointer(sp)) = exitTrampolineFn()
		*(*uintptr)(unsafe.Pointer(sp + 8)) = 0

		t.regs.CS = uint64(gate.KernelCodeSelector)
		t.regs.SS = uint64(gate.KernelDataSelector)
		t.regs.RSP = uint64(sp)
	}

	readyQueues[t.priority].push(slot)

	id := makeTaskID(slot, t.generation)
	kfmt.Debugf("[sched] spawned task 0x%x (priority: %d, user: %t)\n", uint32(id), uint8(t.priority), t.user)
	return id, nil
}

// Yield gives up the CPU. The calling task is placed at the tail of its
// ready queue.
func Yield() {
	yieldFn()
}

// Block suspends the calling task until Unblock is invoked for it.
func Block(reason WaitReason) {
	irqState := maskInterruptsFn()
	if current == idleSlot {
		restoreInterruptsFn(irqState)
		panic(errBlockIdle)
	}

	// A pending kill wins over the block request.
	if tasks[current].state != Terminated {
		tasks[current].state = Blocked
		tasks[current].reason = reason
	}

	// The trap is taken with interrupts masked so the tick handler never
	// observes a blocked task that still owns the CPU.
	yieldFn()
	restoreInterruptsFn(irqState)
}

// Unblock moves a blocked task to the tail of its ready queue. Unblocking a
// task that was killed while blocked returns errNoSuchTask. Unblocking a ready
// or running task indicates corrupted kernel state and causes a kernel panic.
func Unblock(id TaskID) *kernel.Error {
	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	t, err := lookup(id)
	if err != nil {
		return err
	}

	switch t.state {
	case Blocked:
	case Terminated:
		return errNoSuchTask
	default:
		panic(errNotBlocked)
	}

	t.state = Ready
	t.reason = 0
	readyQueues[t.priority].push(id.slot())
	return nil
}

// Exit terminates the calling task. It does not return and must not be
// called from interrupt context.
func Exit() {
	irqState := maskInterruptsFn()
	if current == idleSlot {
		restoreInterruptsFn(irqState)
		panic(errExitIdle)
	}

	tasks[current].state = Terminated
	yieldFn()
	restoreInterruptsFn(irqState)
}

// Kill terminates the specified task. Killing the calling task from task
// context is equivalent to calling Exit. When the caller runs with interrupts
// masked, e.g. from an IRQ handler, the task is only marked as terminated and
// the switch happens at the next timer tick or yield.
func Kill(id TaskID) *kernel.Error {
	if id.slot() == idleSlot {
		return errKillIdle
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	t, err := lookup(id)
	if err != nil {
		return err
	}

	switch {
	case id.slot() == current:
		t.state = Terminated
		if irqState {
			yieldFn()
		}
		return nil
	case t.state == Terminated:
		return nil
	case t.state == Ready:
		readyQueues[t.priority].remove(id.slot())
	}

	t.state = Terminated
	zombies.push(id.slot())
	return nil
}

// Reap releases the resources of terminated tasks and returns the number of
// tasks that were reaped. It must be called by the idle task; calls from
// any other task are ignored.
func Reap() int {
	if current != idleSlot {
		return 0
	}

	irqState := maskInterruptsFn()
	defer restoreInterruptsFn(irqState)

	var (
		count       int
		kernelSpace = kernelSpaceFn()
	)
	for {
		slot, ok := zombies.pop()
		if !ok {
			break
		}

		t := &tasks[slot]
		if t.space.Valid() && t.space != kernelSpace {
			destroySpaceFn(t.space)
		}

		if t.stackTop != 0 {
			freeStackFn(slot, stackPages)
		}

		*t = task{generation: t.generation + 1}
		count++
	}

	return count
}

// Current returns the ID of the running task.
func Current() TaskID {
	return makeTaskID(current, tasks[current].generation)
}

// TaskState returns the state of the specified task.
func TaskState(id TaskID) (State, *kernel.Error) {
	t, err := lookup(id)
	if err != nil {
		return stateFree, err
	}
	return t.state, nil
}

// Reason returns the reason recorded by the last Block call of a blocked
// task.
func Reason(id TaskID) (WaitReason, *kernel.Error) {
	t, err := lookup(id)
	if err != nil {
		return 0, err
	}
	return t.reason, nil
}

// Ticks returns the number of timer interrupts observed since Init.
func Ticks() uint64 {
	return ticks
}

func lookup(id TaskID) (*task, *kernel.Error) {
	slot := id.slot()
	if slot >= maxTasks {
		return nil, errNoSuchTask
	}

	t := &tasks[slot]
	if t.state == stateFree || t.generation != id.generation() {
		return nil, errNoSuchTask
	}

	return t, nil
}
