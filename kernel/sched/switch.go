package sched

import (
	"gophercore/kernel"
	"gophercore/kernel/gate"
	"gophercore/kernel/kfmt"
)

// onTimerTick charges the running task for the elapsed tick and preempts it
// once its time slice is exhausted or a task with a higher priority becomes
// ready.
func onTimerTick(regs *gate.Registers) {
	ticks++

	if current == idleSlot {
		if _, ready := highestReadyPriority(); ready {
			schedule(regs)
		}
		return
	}

	t := &tasks[current]
	if t.state == Terminated {
		// Killed from interrupt context; the switch was deferred to here.
		zombies.push(current)
		schedule(regs)
		return
	}

	if t.slice > 0 {
		t.slice--
	}

	if level, ready := highestReadyPriority(); t.slice == 0 || (ready && level > t.priority) {
		makeReady(current)
		schedule(regs)
	}
}

// onYield handles the yield trap. Depending on the state set by the caller
// the running task is requeued, left blocked or queued for reaping.
func onYield(regs *gate.Registers) {
	switch tasks[current].state {
	case Running:
		if current == idleSlot {
			if _, ready := highestReadyPriority(); !ready {
				return
			}
			break
		}
		makeReady(current)
	case Terminated:
		zombies.push(current)
	}

	schedule(regs)
}

// terminateFaultingTask terminates the running task after an unrecoverable
// fault and switches to the next task. It returns false if the fault
// occurred while running the idle task.
func terminateFaultingTask(regs *gate.Registers, err *kernel.Error) bool {
	if current == idleSlot {
		return false
	}

	kfmt.Printf("[sched] terminating task 0x%x: %s\n", uint32(Current()), err.Message)
	tasks[current].state = Terminated
	zombies.push(current)
	schedule(regs)
	return true
}

func makeReady(slot int) {
	t := &tasks[slot]
	t.state = Ready
	readyQueues[t.priority].push(slot)
}

// highestReadyPriority returns the highest priority level with ready tasks.
func highestReadyPriority() (Priority, bool) {
	for level := priorityLevels - 1; level >= 0; level-- {
		if readyQueues[level].count != 0 {
			return Priority(level), true
		}
	}
	return 0, false
}

// schedule selects the next task to run and switches to it. The idle task
// is selected when no other task is ready.
func schedule(regs *gate.Registers) {
	next := idleSlot
	if level, ready := highestReadyPriority(); ready {
		next, _ = readyQueues[level].pop()
	}

	switchTo(next, regs)
}

// switchTo saves the register snapshot of the running task and replaces it
// with the snapshot of the next task so that returning from the interrupt
// resumes the next task.
func switchTo(next int, regs *gate.Registers) {
	n := &tasks[next]
	n.state = Running
	n.slice = quantum

	if next == current {
		return
	}

	// The idle task never enters a ready queue but it must not be reported
	// as running while another task owns the CPU.
	if current == idleSlot {
		tasks[idleSlot].state = Ready
	}

	tasks[current].regs = *regs
	if !regs.FromUserMode() {
		kernelG = regs.R14
	}

	if !n.started {
		n.started = true
		if !n.user {
			n.regs.R14 = kernelG
		}
	}

	if n.space != activeSpace {
		activateFn(n.space)
		activeSpace = n.space
	}

	if n.stackTop != 0 {
		setKernelStackFn(n.stackTop)
	}

	current = next
	*regs = n.regs
}
